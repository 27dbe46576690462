package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/schollz/progressbar/v3"
)

// link tracks the connection for a command waiting on it.
type link struct {
	connectedOnce sync.Once
	closedOnce    sync.Once
	connected     chan struct{}
	closed        chan struct{}

	mu    sync.Mutex
	cause error
}

func newLink() *link {
	return &link{connected: make(chan struct{}), closed: make(chan struct{})}
}

func (l *link) changed(up bool, err error) {
	if up {
		l.connectedOnce.Do(func() { close(l.connected) })
		return
	}
	l.closedOnce.Do(func() {
		l.mu.Lock()
		l.cause = err
		l.mu.Unlock()
		close(l.closed)
	})
}

func (l *link) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

// hostView draws send progress and reports when every file has settled.
type hostView struct {
	session.NopObserver
	*link

	out     io.Writer
	bar     *progressbar.ProgressBar
	total   int
	settled map[uuid.UUID]bool
	done    chan struct{}
	mu      sync.Mutex
}

func newHostView(out io.Writer, files []session.RawFile) *hostView {
	var size int64
	for _, f := range files {
		size += int64(len(f.Data))
	}
	return &hostView{
		link:  newLink(),
		out:   out,
		total: len(files),
		bar: progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("sending"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetPredictTime(false),
		),
		settled: make(map[uuid.UUID]bool),
		done:    make(chan struct{}),
	}
}

func (v *hostView) ConnectionChanged(up bool, err error) {
	v.changed(up, err)
}

func (v *hostView) ItemChanged(_ session.Role, item session.TransferItem) {
	if !item.Status.Settled() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.settled[item.ID] {
		return
	}
	v.settled[item.ID] = true
	_ = v.bar.Add64(int64(item.SizeBytes))

	if len(v.settled) == v.total {
		_ = v.bar.Finish()
		close(v.done)
	}
}

// joinView counts received files against the announced batch.
type joinView struct {
	session.NopObserver
	*link

	out io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newJoinView(out io.Writer) *joinView {
	return &joinView{link: newLink(), out: out}
}

func (v *joinView) ConnectionChanged(up bool, err error) {
	v.changed(up, err)
}

func (v *joinView) BatchAnnounced(total int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.bar != nil {
		_ = v.bar.Finish()
	}
	v.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(v.out),
		progressbar.OptionSetDescription("receiving"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
}

func (v *joinView) ItemChanged(_ session.Role, item session.TransferItem) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch item.Status {
	case session.StatusReceived:
		if v.bar != nil {
			_ = v.bar.Add(1)
		}
	case session.StatusDownloaded:
		fmt.Fprintf(v.out, "\nsaved %s (%s)", item.Name, humanize.Bytes(item.SizeBytes))
	}
}

// printSummary lists every outbound item and returns how many failed.
func printSummary(out io.Writer, items []session.TransferItem) int {
	failed := 0
	fmt.Fprintln(out)
	for _, item := range items {
		line := fmt.Sprintf("%-8s %s (%s)", item.Status, item.Name, humanize.Bytes(item.SizeBytes))
		if item.Status == session.StatusFailed {
			failed++
			line += ": " + item.Reason
		}
		fmt.Fprintln(out, line)
	}
	return failed
}
