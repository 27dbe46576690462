// Package session runs the file transfer protocol between a Host and a
// Joiner over a transport.Channel.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize      = 16 * 1024
	DefaultInFlightWindow = 1
)

type Options struct {
	Role      Role
	RoomID    string
	Logger    *logrus.Logger
	Observer  Observer
	Deliverer Deliverer

	// ChunkSize caps the payload bytes carried by one frame.
	ChunkSize int
	// InFlightWindow is how many files may wait for an acknowledgement at
	// once.
	InFlightWindow int
	// AckTimeout fails a file whose acknowledgement has not arrived in
	// time. Zero waits forever.
	AckTimeout time.Duration
	// DownloadPacing is the pause between deliveries in DownloadAllPending.
	DownloadPacing time.Duration
}

type Session struct {
	role      Role
	roomID    string
	log       *logrus.Entry
	codec     *protocol.Codec
	notifier  *notifier
	deliverer Deliverer

	chunkSize  int
	ackTimeout time.Duration
	pacing     time.Duration

	mu        sync.Mutex
	channel   transport.Channel
	connected bool
	closed    bool
	down      chan struct{}

	sender   *Sender
	receiver *Receiver
	slots    chan struct{}
	awaiting map[uuid.UUID]*inflight
}

var _ transport.Handler = (*Session)(nil)

type inflight struct {
	timer *time.Timer
}

func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	deliverer := opts.Deliverer
	if deliverer == nil {
		deliverer = discard
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	window := opts.InFlightWindow
	if window <= 0 {
		window = DefaultInFlightWindow
	}

	return &Session{
		role:   opts.Role,
		roomID: opts.RoomID,
		log: log.WithFields(logrus.Fields{
			"role": opts.Role.String(),
			"room": opts.RoomID,
		}),
		codec:      protocol.NewCodec(),
		notifier:   newNotifier(observer),
		deliverer:  deliverer,
		chunkSize:  min(chunkSize, protocol.MaxChunkSize),
		ackTimeout: opts.AckTimeout,
		pacing:     opts.DownloadPacing,
		down:       make(chan struct{}),
		sender:     newSender(),
		receiver:   newReceiver(),
		slots:      make(chan struct{}, window),
		awaiting:   make(map[uuid.UUID]*inflight),
	}
}

func (s *Session) Role() Role {
	return s.role
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) OnOpen(ch transport.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.log.Warn("Channel opened after session close")
		return
	}
	if s.channel != nil {
		s.log.Warn("Ignoring second channel, session already connected")
		return
	}

	s.channel = ch
	s.connected = true
	s.down = make(chan struct{})
	s.notify(func(o Observer) { o.ConnectionChanged(true, nil) })
	s.log.Info("Channel open")
}

func (s *Session) OnClose() {
	s.disconnect(nil)
}

func (s *Session) OnError(err error) {
	s.log.WithError(err).Error("Channel error")
	s.disconnect(fmt.Errorf("%w: %v", ErrChannel, err))
}

// disconnect releases the channel handle. Queued items stay visible; files
// still waiting for an acknowledgement can no longer get one and fail.
func (s *Session) disconnect(cause error) {
	s.mu.Lock()
	ch := s.channel
	if ch == nil {
		s.mu.Unlock()
		return
	}

	s.channel = nil
	s.connected = false
	close(s.down)

	reason := cause
	if reason == nil {
		reason = fmt.Errorf("%w: closed before delivery", ErrChannel)
	}
	s.failInFlightLocked(reason)
	s.notify(func(o Observer) { o.ConnectionChanged(false, cause) })
	s.mu.Unlock()

	s.log.Info("Channel closed")
	if cause != nil {
		_ = ch.Close()
	}
}

// Close tears the session down: in-flight files fail, every item is
// discarded and the channel is closed. Observers have seen every event by
// the time Close returns, so they must not call Close themselves.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	ch := s.channel
	s.channel = nil
	if s.connected {
		s.connected = false
		close(s.down)
		s.notify(func(o Observer) { o.ConnectionChanged(false, ErrSessionClosed) })
	}
	s.failInFlightLocked(ErrSessionClosed)
	s.sender.reset()
	s.receiver.reset()
	s.mu.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}
	s.notifier.close()
	return err
}

// OnMessage decodes one channel message and hands it to the state machine
// of the local role.
func (s *Session) OnMessage(data []byte) {
	msg, err := s.codec.DecodeFromBytes(data)
	if err != nil {
		s.log.WithError(err).Warn("Dropping undecodable message")
		return
	}

	switch m := msg.(type) {
	case *protocol.Ack:
		if s.accepts(RoleHost, msg) {
			s.handleAck(m.FileID)
		}
	case *protocol.ReceiveError:
		if s.accepts(RoleHost, msg) {
			s.handleReceiveError(m)
		}
	case *protocol.BatchMeta:
		if s.accepts(RoleJoiner, msg) {
			s.handleBatchMeta(m)
		}
	case *protocol.FileMetadata:
		if s.accepts(RoleJoiner, msg) {
			s.handleMetadata(m)
		}
	case *protocol.Payload:
		if s.accepts(RoleJoiner, msg) {
			s.handlePayload(m)
		}
	case *protocol.RawPayload:
		if s.accepts(RoleJoiner, msg) {
			s.handleRawPayload(m)
		}
	default:
		s.log.Warnf("Unknown message type received: %s", msg.Type())
	}
}

func (s *Session) accepts(role Role, msg protocol.Message) bool {
	if s.role != role {
		s.log.Warnf("Ignoring %s on %s session", msg.Type(), s.role)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Debugf("Ignoring %s after close", msg.Type())
		return false
	}
	return true
}

func (s *Session) send(ch transport.Channel, msg protocol.Message) error {
	data, err := s.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	return ch.Send(data)
}

func (s *Session) checkLocked(role Role) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.role != role {
		return fmt.Errorf("%w: %s", ErrWrongRole, s.role)
	}
	return nil
}

func (s *Session) notify(event func(Observer)) {
	s.notifier.push(event)
}

func (s *Session) notifyItem(role Role, item *TransferItem) {
	snap := *item
	s.notify(func(o Observer) { o.ItemChanged(role, snap) })
}

// notifier calls the observer from its own goroutine, in push order.
type notifier struct {
	observer Observer

	mu     sync.Mutex
	queue  []func(Observer)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(observer Observer) *notifier {
	n := &notifier{
		observer: observer,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(event func(Observer)) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, event)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// close stops the notifier once queued events are delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		n.mu.Lock()
		batch, closed := n.queue, n.closed
		n.queue = nil
		n.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-n.wake
			continue
		}
		for _, event := range batch {
			event(n.observer)
		}
	}
}
