package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/samber/lo"
)

// Sender holds the outbound queue in selection order. It is owned by a
// Session and only touched under the session lock.
type Sender struct {
	items []*TransferItem
	index map[uuid.UUID]*TransferItem
}

func newSender() *Sender {
	return &Sender{index: make(map[uuid.UUID]*TransferItem)}
}

func (s *Sender) Select(files []RawFile) []*TransferItem {
	added := lo.Map(files, func(f RawFile, _ int) *TransferItem {
		return newTransferItem(f)
	})
	for _, item := range added {
		s.items = append(s.items, item)
		s.index[item.ID] = item
	}
	return added
}

func (s *Sender) Delete(id uuid.UUID) error {
	item, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != StatusSelected {
		return fmt.Errorf("%w: %s is %s", ErrNotDeletable, item.Name, item.Status)
	}

	delete(s.index, id)
	s.items = lo.Reject(s.items, func(i *TransferItem, _ int) bool {
		return i.ID == id
	})
	return nil
}

func (s *Sender) Lookup(id uuid.UUID) (*TransferItem, bool) {
	item, ok := s.index[id]
	return item, ok
}

func (s *Sender) Selected() []*TransferItem {
	return s.withStatus(StatusSelected)
}

func (s *Sender) withStatus(status Status) []*TransferItem {
	return lo.Filter(s.items, func(i *TransferItem, _ int) bool {
		return i.Status == status
	})
}

// transition moves an item along Selected -> Sending -> {Sent | Failed} and
// reports whether the move was allowed.
func (s *Sender) transition(id uuid.UUID, to Status, reason error) (*TransferItem, bool) {
	item, ok := s.index[id]
	if !ok {
		return nil, false
	}

	switch {
	case item.Status == StatusSelected && to == StatusSending:
	case item.Status == StatusSending && (to == StatusSent || to == StatusFailed):
	default:
		return item, false
	}

	item.Status = to
	if reason != nil {
		item.Reason = reason.Error()
	}
	return item, true
}

func (s *Sender) reset() {
	s.items = nil
	s.index = make(map[uuid.UUID]*TransferItem)
}

// SelectFiles queues files for sending. Nothing is transmitted.
func (s *Session) SelectFiles(files []RawFile) ([]TransferItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(RoleHost); err != nil {
		return nil, err
	}

	added := s.sender.Select(files)
	for _, item := range added {
		s.notifyItem(RoleHost, item)
		s.log.WithField("file", item.Name).Debugf("Selected %s (%d bytes)", item.ID, item.SizeBytes)
	}
	return snapshot(added), nil
}

// DeleteSelected removes a file that has not been sent yet.
func (s *Session) DeleteSelected(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(RoleHost); err != nil {
		return err
	}
	if err := s.sender.Delete(id); err != nil {
		return err
	}
	s.notify(func(o Observer) { o.ItemRemoved(RoleHost, id) })
	return nil
}

// Outbound returns a copy of the outbound queue.
func (s *Session) Outbound() []TransferItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.sender.items)
}

// SendSelected announces the batch, sends metadata for every selected file
// and then streams the payloads, keeping at most InFlightWindow files
// unacknowledged. It returns once every payload is handed to the channel.
func (s *Session) SendSelected(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkLocked(RoleHost); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	batch := s.sender.Selected()
	if len(batch) == 0 {
		s.mu.Unlock()
		return ErrEmptyQueue
	}
	ch, down := s.channel, s.down
	s.mu.Unlock()

	if err := s.send(ch, &protocol.BatchMeta{TotalFiles: uint32(len(batch))}); err != nil {
		return fmt.Errorf("%w: announcing batch: %v", ErrSendFailure, err)
	}
	s.log.Infof("Sending batch of %d files", len(batch))

	sending := make([]uuid.UUID, 0, len(batch))
	for _, item := range batch {
		s.mu.Lock()
		_, ok := s.sender.transition(item.ID, StatusSending, nil)
		if ok {
			s.notifyItem(RoleHost, item)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}

		meta := &protocol.FileMetadata{
			FileID:    item.ID,
			Name:      item.Name,
			MimeType:  item.MimeType,
			SizeBytes: item.SizeBytes,
			Checksum:  item.Checksum,
		}
		if err := s.send(ch, meta); err != nil {
			s.fail(item.ID, fmt.Errorf("%w: metadata: %v", ErrSendFailure, err))
			continue
		}
		sending = append(sending, item.ID)
	}

	for i, id := range sending {
		if err := s.acquireSlot(ctx, down); err != nil {
			for _, rest := range sending[i:] {
				s.fail(rest, err)
			}
			return err
		}

		s.mu.Lock()
		item, ok := s.sender.Lookup(id)
		if !ok || item.Status != StatusSending {
			<-s.slots
			s.mu.Unlock()
			continue
		}
		s.awaitLocked(id)
		payload := item.Payload
		s.mu.Unlock()

		if err := s.sendPayload(ch, id, payload); err != nil {
			s.fail(id, fmt.Errorf("%w: payload: %v", ErrSendFailure, err))
			continue
		}

		s.mu.Lock()
		s.armLocked(id)
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) sendPayload(ch transport.Channel, id uuid.UUID, data []byte) error {
	for _, frame := range protocol.SplitPayload(id, data, s.chunkSize) {
		if err := s.send(ch, frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) acquireSlot(ctx context.Context, down <-chan struct{}) error {
	select {
	case s.slots <- struct{}{}:
		select {
		case <-down:
			<-s.slots
			return ErrNotConnected
		default:
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-down:
		return ErrNotConnected
	}
}

// awaitLocked registers a file whose payload is about to be sent. It owns
// one window slot until settleLocked releases it.
func (s *Session) awaitLocked(id uuid.UUID) {
	s.awaiting[id] = &inflight{}
}

// armLocked starts the acknowledgement timeout once the last frame of id is
// on the channel. A file that already settled is left alone.
func (s *Session) armLocked(id uuid.UUID) {
	f, ok := s.awaiting[id]
	if !ok || s.ackTimeout <= 0 || f.timer != nil {
		return
	}
	f.timer = time.AfterFunc(s.ackTimeout, func() { s.expire(id, f) })
}

func (s *Session) settleLocked(id uuid.UUID) {
	f, ok := s.awaiting[id]
	if !ok {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	delete(s.awaiting, id)
	<-s.slots
}

func (s *Session) expire(id uuid.UUID, f *inflight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.awaiting[id] != f {
		return
	}
	s.log.Warnf("No acknowledgement for %s after %s", id, s.ackTimeout)
	s.failLocked(id, ErrAckTimeout)
}

func (s *Session) fail(id uuid.UUID, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(id, reason)
}

func (s *Session) failLocked(id uuid.UUID, reason error) {
	item, ok := s.sender.transition(id, StatusFailed, reason)
	if !ok {
		return
	}
	s.settleLocked(id)
	s.notifyItem(RoleHost, item)
	s.log.WithField("file", item.Name).WithError(reason).Warn("File failed")
}

func (s *Session) failInFlightLocked(reason error) {
	for _, item := range s.sender.withStatus(StatusSending) {
		s.failLocked(item.ID, reason)
	}
}

func (s *Session) handleAck(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.sender.Lookup(id)
	if !ok {
		s.log.Warnf("Ack for unknown file %s", id)
		return
	}
	if _, ok := s.sender.transition(id, StatusSent, nil); !ok {
		s.log.Warnf("Ignoring ack for %s file %s", item.Status, item.Name)
		return
	}

	s.settleLocked(id)
	s.notifyItem(RoleHost, item)
	s.log.WithField("file", item.Name).Info("File delivered")
}

func (s *Session) handleReceiveError(m *protocol.ReceiveError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.sender.Lookup(m.FileID)
	if !ok {
		s.log.Warnf("Receive error for unknown file %s: %s", m.FileID, m.Error)
		return
	}
	if item.Status != StatusSending {
		s.log.Warnf("Ignoring receive error for %s file %s: %s", item.Status, item.Name, m.Error)
		return
	}
	s.failLocked(m.FileID, fmt.Errorf("%w: %s", ErrPeer, m.Error))
}
