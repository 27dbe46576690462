package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/samber/lo"
)

const maxPrealloc = 4 * 1024 * 1024

// errRejected marks frames of a file that was already refused.
var errRejected = errors.New("file already rejected")

type pendingFile struct {
	meta protocol.FileMetadata
	seq  uint64
	data []byte
}

// Receiver stages announced files, assembles their payloads and keeps the
// received items in arrival order. It is owned by a Session and only
// touched under the session lock.
type Receiver struct {
	pending  map[uuid.UUID]*pendingFile
	rejected map[uuid.UUID]struct{}
	seq      uint64

	items []*TransferItem
	index map[uuid.UUID]*TransferItem

	announced       int
	receivedInBatch int
}

func newReceiver() *Receiver {
	r := &Receiver{}
	r.reset()
	return r
}

func (r *Receiver) reset() {
	r.pending = make(map[uuid.UUID]*pendingFile)
	r.rejected = make(map[uuid.UUID]struct{})
	r.items = nil
	r.index = make(map[uuid.UUID]*TransferItem)
	r.announced = 0
	r.receivedInBatch = 0
}

func (r *Receiver) announce(totalFiles int) {
	r.announced = totalFiles
	r.receivedInBatch = 0
}

// stage records metadata for an announced file. A second announcement for
// the same id replaces the first.
func (r *Receiver) stage(meta protocol.FileMetadata) (replaced bool) {
	_, replaced = r.pending[meta.FileID]
	r.seq++
	r.pending[meta.FileID] = &pendingFile{meta: meta, seq: r.seq}
	delete(r.rejected, meta.FileID)
	return replaced
}

// assemble appends a frame to its pending file and returns the item once
// the final frame is in. A file that fails any check is dropped.
func (r *Receiver) assemble(frame *protocol.Payload) (*TransferItem, error) {
	id := frame.FileID
	if _, ok := r.rejected[id]; ok {
		return nil, errRejected
	}

	p, ok := r.pending[id]
	if !ok {
		return nil, r.reject(id, fmt.Errorf("%w: no metadata for %s", ErrReceiveMismatch, id))
	}

	received := uint64(len(p.data))
	switch {
	case frame.Offset != received:
		return nil, r.reject(id, fmt.Errorf("%w: chunk at offset %d, expected %d", ErrReceiveMismatch, frame.Offset, received))
	case received+uint64(len(frame.Data)) > p.meta.SizeBytes:
		return nil, r.reject(id, fmt.Errorf("%w: payload exceeds announced size of %d bytes", ErrReceiveMismatch, p.meta.SizeBytes))
	}

	if p.data == nil {
		p.data = make([]byte, 0, min(p.meta.SizeBytes, maxPrealloc))
	}
	p.data = append(p.data, frame.Data...)
	if !frame.Final {
		return nil, nil
	}

	if uint64(len(p.data)) != p.meta.SizeBytes {
		return nil, r.reject(id, fmt.Errorf("%w: received %d of %d bytes", ErrReceiveMismatch, len(p.data), p.meta.SizeBytes))
	}
	delete(r.pending, id)

	item, err := r.complete(p.meta, p.data)
	if err != nil {
		return nil, r.reject(id, err)
	}
	return item, nil
}

// pairRaw matches an unaddressed payload with the most recently announced
// file that has not been received. It returns the id it picked, if any.
func (r *Receiver) pairRaw(data []byte) (*TransferItem, uuid.UUID, error) {
	var candidate *pendingFile
	for id, p := range r.pending {
		if _, done := r.index[id]; done {
			continue
		}
		if candidate == nil || p.seq > candidate.seq {
			candidate = p
		}
	}
	if candidate == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: no pending metadata for raw payload", ErrReceiveMismatch)
	}

	id := candidate.meta.FileID
	delete(r.pending, id)

	item, err := r.complete(candidate.meta, bytes.Clone(data))
	return item, id, err
}

func (r *Receiver) reject(id uuid.UUID, err error) error {
	delete(r.pending, id)
	r.rejected[id] = struct{}{}
	return err
}

func (r *Receiver) complete(meta protocol.FileMetadata, data []byte) (*TransferItem, error) {
	if _, dup := r.index[meta.FileID]; dup {
		return nil, fmt.Errorf("%w: %s was already received", ErrReceiveMismatch, meta.FileID)
	}
	if meta.Checksum != "" && Checksum(data) != meta.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrReceiveMismatch, meta.Name)
	}

	item := &TransferItem{
		ID:        meta.FileID,
		Name:      meta.Name,
		MimeType:  meta.MimeType,
		SizeBytes: meta.SizeBytes,
		Checksum:  meta.Checksum,
		Payload:   data,
		Status:    StatusReceived,
	}
	r.items = append(r.items, item)
	r.index[item.ID] = item
	r.receivedInBatch++
	return item, nil
}

func (r *Receiver) Lookup(id uuid.UUID) (*TransferItem, bool) {
	item, ok := r.index[id]
	return item, ok
}

func (r *Receiver) notDownloaded() []*TransferItem {
	return lo.Filter(r.items, func(i *TransferItem, _ int) bool {
		return i.Status == StatusReceived
	})
}

// Received returns a copy of the received items in arrival order.
func (s *Session) Received() []TransferItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.receiver.items)
}

// Batch returns the size of the last announced batch and how many files
// arrived since that announcement.
func (s *Session) Batch() (announced, received int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver.announced, s.receiver.receivedInBatch
}

// PendingMetadata returns how many announced files have no payload yet.
func (s *Session) PendingMetadata() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receiver.pending)
}

// DownloadOne delivers a received file to the Deliverer. Downloading the
// same file again delivers it again.
func (s *Session) DownloadOne(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if err := s.checkLocked(RoleJoiner); err != nil {
		s.mu.Unlock()
		return err
	}
	item, ok := s.receiver.Lookup(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snap := *item
	s.mu.Unlock()

	if err := s.deliverer.Deliver(ctx, snap); err != nil {
		return fmt.Errorf("delivering %s: %w", snap.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && item.Status == StatusReceived {
		item.Status = StatusDownloaded
		s.notifyItem(RoleJoiner, item)
	}
	s.log.WithField("file", snap.Name).Info("File downloaded")
	return nil
}

// DownloadAllPending delivers every file that has not been downloaded yet,
// in arrival order, pausing DownloadPacing between files. It returns how
// many files were processed, failed deliveries included; their errors are
// joined into the returned error.
func (s *Session) DownloadAllPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	if err := s.checkLocked(RoleJoiner); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	ids := lo.Map(s.receiver.notDownloaded(), func(i *TransferItem, _ int) uuid.UUID {
		return i.ID
	})
	s.mu.Unlock()

	var errs []error
	count := 0
	for i, id := range ids {
		if i > 0 && s.pacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.pacing):
			}
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		count++
		if err := s.DownloadOne(ctx, id); err != nil {
			s.log.WithError(err).Warn("Download failed")
			errs = append(errs, err)
		}
	}
	return count, errors.Join(errs...)
}

func (s *Session) handleBatchMeta(m *protocol.BatchMeta) {
	total := int(m.TotalFiles)

	s.mu.Lock()
	s.receiver.announce(total)
	s.notify(func(o Observer) { o.BatchAnnounced(total) })
	s.mu.Unlock()

	s.log.Infof("Incoming batch of %d files", total)
}

func (s *Session) handleMetadata(m *protocol.FileMetadata) {
	s.mu.Lock()
	replaced := s.receiver.stage(*m)
	s.mu.Unlock()

	if replaced {
		s.log.Warnf("Metadata for %s replaced a pending entry", m.FileID)
	}
	s.log.WithField("file", m.Name).Debugf("Staged %s (%d bytes)", m.FileID, m.SizeBytes)
}

func (s *Session) handlePayload(m *protocol.Payload) {
	s.mu.Lock()
	item, err := s.receiver.assemble(m)
	if item != nil {
		s.notifyItem(RoleJoiner, item)
	}
	ch := s.channel
	s.mu.Unlock()

	switch {
	case errors.Is(err, errRejected):
		s.log.Debugf("Dropping chunk of rejected file %s", m.FileID)
	case err != nil:
		s.log.WithError(err).Warn("Rejecting payload")
		s.reply(ch, &protocol.ReceiveError{FileID: m.FileID, Error: err.Error()})
	case item != nil:
		s.log.WithField("file", item.Name).Info("File received")
		s.reply(ch, &protocol.Ack{FileID: item.ID})
	}
}

func (s *Session) handleRawPayload(m *protocol.RawPayload) {
	s.mu.Lock()
	item, id, err := s.receiver.pairRaw(m.Data)
	if item != nil {
		s.notifyItem(RoleJoiner, item)
	}
	ch := s.channel
	s.mu.Unlock()

	switch {
	case err != nil && id == uuid.Nil:
		s.log.WithError(err).Warn("Dropping raw payload")
	case err != nil:
		s.log.WithError(err).Warn("Rejecting raw payload")
		s.reply(ch, &protocol.ReceiveError{FileID: id, Error: err.Error()})
	default:
		s.log.WithField("file", item.Name).Info("File received")
		s.reply(ch, &protocol.Ack{FileID: item.ID})
	}
}

func (s *Session) reply(ch transport.Channel, msg protocol.Message) {
	if ch == nil {
		s.log.Warnf("Cannot send %s, not connected", msg.Type())
		return
	}
	if err := s.send(ch, msg); err != nil {
		s.log.WithError(err).Warnf("Failed to send %s", msg.Type())
	}
}
