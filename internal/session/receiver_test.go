package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (d *recordingDeliverer) Deliver(_ context.Context, item TransferItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.names = append(d.names, item.Name)
	return nil
}

func (d *recordingDeliverer) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

func metadataFor(name string, data []byte) *protocol.FileMetadata {
	return &protocol.FileMetadata{
		FileID:    uuid.New(),
		Name:      name,
		MimeType:  "image/png",
		SizeBytes: uint64(len(data)),
		Checksum:  Checksum(data),
	}
}

func acks(msgs []protocol.Message) []uuid.UUID {
	var ids []uuid.UUID
	for _, msg := range msgs {
		if ack, ok := msg.(*protocol.Ack); ok {
			ids = append(ids, ack.FileID)
		}
	}
	return ids
}

func receiveErrors(msgs []protocol.Message) []*protocol.ReceiveError {
	var out []*protocol.ReceiveError
	for _, msg := range msgs {
		if e, ok := msg.(*protocol.ReceiveError); ok {
			out = append(out, e)
		}
	}
	return out
}

// receive feeds a whole file to s as one framed payload.
func receive(t *testing.T, s *Session, name string, data []byte) *protocol.FileMetadata {
	t.Helper()
	meta := metadataFor(name, data)
	s.OnMessage(encode(t, meta))
	s.OnMessage(encode(t, &protocol.Payload{FileID: meta.FileID, Final: true, Data: data}))
	return meta
}

func TestReceiveRoundTrip(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	meta := receive(t, s, "a.png", []byte("PNGDATA"))

	items := s.Received()
	req.Len(items, 1)
	req.Equal(meta.FileID, items[0].ID)
	req.Equal(meta.Name, items[0].Name)
	req.Equal(meta.MimeType, items[0].MimeType)
	req.Equal(meta.SizeBytes, items[0].SizeBytes)
	req.Equal([]byte("PNGDATA"), items[0].Payload)
	req.Equal(StatusReceived, items[0].Status)

	req.Equal([]uuid.UUID{meta.FileID}, acks(ch.messages()))
	req.Zero(s.PendingMetadata())
}

func TestReceiveFramedPairsByID(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	a := metadataFor("a.png", []byte("AAAA"))
	b := metadataFor("b.png", []byte("BBBB"))

	s.OnMessage(encode(t, &protocol.BatchMeta{TotalFiles: 2}))
	s.OnMessage(encode(t, a))
	s.OnMessage(encode(t, b))
	req.Equal(2, s.PendingMetadata())

	s.OnMessage(encode(t, &protocol.Payload{FileID: a.FileID, Final: true, Data: []byte("AAAA")}))
	s.OnMessage(encode(t, &protocol.Payload{FileID: b.FileID, Final: true, Data: []byte("BBBB")}))

	items := s.Received()
	req.Len(items, 2)
	req.Equal(a.FileID, items[0].ID)
	req.Equal([]byte("AAAA"), items[0].Payload)
	req.Equal(b.FileID, items[1].ID)
	req.Equal([]byte("BBBB"), items[1].Payload)
	req.Equal([]uuid.UUID{a.FileID, b.FileID}, acks(ch.messages()))

	announced, received := s.Batch()
	req.Equal(2, announced)
	req.Equal(2, received)
}

func TestReceiveRawPayloadMostRecentPending(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	// Unframed senders carry no checksum.
	a := &protocol.FileMetadata{FileID: uuid.New(), Name: "a.png", MimeType: "image/png", SizeBytes: 4}
	b := &protocol.FileMetadata{FileID: uuid.New(), Name: "b.png", MimeType: "image/png", SizeBytes: 4}

	s.OnMessage(encode(t, &protocol.BatchMeta{TotalFiles: 2}))
	s.OnMessage(encode(t, a))
	s.OnMessage(encode(t, b))
	s.OnMessage(encode(t, &protocol.RawPayload{Data: []byte("AAAA")}))
	s.OnMessage(encode(t, &protocol.RawPayload{Data: []byte("BBBB")}))

	// The first payload goes to the most recently announced file.
	items := s.Received()
	req.Len(items, 2)
	req.Equal(b.FileID, items[0].ID)
	req.Equal([]byte("AAAA"), items[0].Payload)
	req.Equal(a.FileID, items[1].ID)
	req.Equal([]byte("BBBB"), items[1].Payload)
	req.Equal([]uuid.UUID{b.FileID, a.FileID}, acks(ch.messages()))
}

func TestReceiveRawPayloadWithoutMetadata(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	s.OnMessage(encode(t, &protocol.RawPayload{Data: []byte("orphan")}))

	req.Empty(s.Received())
	req.Empty(ch.messages())
}

func TestReceivePayloadWithoutMetadata(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	id := uuid.New()
	s.OnMessage(encode(t, &protocol.Payload{FileID: id, Data: []byte("abcd")}))
	s.OnMessage(encode(t, &protocol.Payload{FileID: id, Offset: 4, Final: true, Data: []byte("efgh")}))

	req.Empty(s.Received())
	errs := receiveErrors(ch.messages())
	req.Len(errs, 1, "a rejected file is reported once")
	req.Equal(id, errs[0].FileID)
	req.Contains(errs[0].Error, "no metadata")
}

func TestReceiveChunkedPayload(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	data := []byte("0123456789")
	meta := metadataFor("digits.txt", data)
	s.OnMessage(encode(t, meta))
	for _, frame := range protocol.SplitPayload(meta.FileID, data, 3) {
		s.OnMessage(encode(t, frame))
	}

	items := s.Received()
	req.Len(items, 1)
	req.Equal(data, items[0].Payload)
	req.Len(ch.messages(), 1)
}

func TestReceiveMismatches(t *testing.T) {
	tests := []struct {
		name   string
		frames func(meta *protocol.FileMetadata) []*protocol.Payload
		reason string
	}{
		{
			name: "exceeds announced size",
			frames: func(meta *protocol.FileMetadata) []*protocol.Payload {
				return []*protocol.Payload{{FileID: meta.FileID, Final: true, Data: []byte("too many bytes")}}
			},
			reason: "exceeds announced size",
		},
		{
			name: "short final frame",
			frames: func(meta *protocol.FileMetadata) []*protocol.Payload {
				return []*protocol.Payload{{FileID: meta.FileID, Final: true, Data: []byte("ab")}}
			},
			reason: "received 2 of 4 bytes",
		},
		{
			name: "offset gap",
			frames: func(meta *protocol.FileMetadata) []*protocol.Payload {
				return []*protocol.Payload{
					{FileID: meta.FileID, Data: []byte("ab")},
					{FileID: meta.FileID, Offset: 3, Final: true, Data: []byte("d")},
				}
			},
			reason: "offset 3",
		},
		{
			name: "checksum mismatch",
			frames: func(meta *protocol.FileMetadata) []*protocol.Payload {
				return []*protocol.Payload{{FileID: meta.FileID, Final: true, Data: []byte("abcX")}}
			},
			reason: "checksum mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			s, ch := connectedJoiner(t, Options{})

			meta := metadataFor("f.bin", []byte("abcd"))
			s.OnMessage(encode(t, meta))
			for _, frame := range tt.frames(meta) {
				s.OnMessage(encode(t, frame))
			}

			req.Empty(s.Received())
			req.Zero(s.PendingMetadata())
			req.Empty(acks(ch.messages()))

			errs := receiveErrors(ch.messages())
			req.Len(errs, 1)
			req.Equal(meta.FileID, errs[0].FileID)
			req.Contains(errs[0].Error, tt.reason)
		})
	}
}

func TestReceiveDuplicateMetadataLastWriteWins(t *testing.T) {
	req := require.New(t)
	s, _ := connectedJoiner(t, Options{})

	first := metadataFor("first.png", []byte("data"))
	second := *first
	second.Name = "second.png"

	s.OnMessage(encode(t, first))
	s.OnMessage(encode(t, &second))
	req.Equal(1, s.PendingMetadata())

	s.OnMessage(encode(t, &protocol.Payload{FileID: first.FileID, Final: true, Data: []byte("data")}))

	items := s.Received()
	req.Len(items, 1)
	req.Equal("second.png", items[0].Name)
}

func TestReceiveSameIDTwice(t *testing.T) {
	req := require.New(t)
	s, ch := connectedJoiner(t, Options{})

	meta := receive(t, s, "a.png", []byte("once"))
	s.OnMessage(encode(t, meta))
	s.OnMessage(encode(t, &protocol.Payload{FileID: meta.FileID, Final: true, Data: []byte("once")}))

	req.Len(s.Received(), 1)
	req.Len(acks(ch.messages()), 1)
	req.Len(receiveErrors(ch.messages()), 1)
}

func TestDownloadOneIdempotent(t *testing.T) {
	req := require.New(t)
	deliverer := &recordingDeliverer{}
	s, _ := connectedJoiner(t, Options{Deliverer: deliverer})

	meta := receive(t, s, "a.png", []byte("PNG"))

	req.NoError(s.DownloadOne(context.Background(), meta.FileID))
	req.NoError(s.DownloadOne(context.Background(), meta.FileID))

	items := s.Received()
	req.Len(items, 1)
	req.Equal(StatusDownloaded, items[0].Status)
	req.Equal([]string{"a.png", "a.png"}, deliverer.delivered())
}

func TestDownloadOneNotFound(t *testing.T) {
	req := require.New(t)
	s, _ := connectedJoiner(t, Options{})

	req.ErrorIs(s.DownloadOne(context.Background(), uuid.New()), ErrNotFound)
}

func TestDownloadOneDeliveryError(t *testing.T) {
	req := require.New(t)
	deliverer := &recordingDeliverer{err: errors.New("disk full")}
	s, _ := connectedJoiner(t, Options{Deliverer: deliverer})

	meta := receive(t, s, "a.png", []byte("PNG"))

	err := s.DownloadOne(context.Background(), meta.FileID)
	req.ErrorContains(err, "disk full")
	req.Equal(StatusReceived, s.Received()[0].Status)
}

func TestDownloadAllPending(t *testing.T) {
	req := require.New(t)
	deliverer := &recordingDeliverer{}
	s, _ := connectedJoiner(t, Options{Deliverer: deliverer, DownloadPacing: 1})

	n, err := s.DownloadAllPending(context.Background())
	req.NoError(err)
	req.Zero(n)

	first := receive(t, s, "one.txt", []byte("1"))
	receive(t, s, "two.txt", []byte("2"))
	receive(t, s, "three.txt", []byte("3"))

	req.NoError(s.DownloadOne(context.Background(), first.FileID))

	n, err = s.DownloadAllPending(context.Background())
	req.NoError(err)
	req.Equal(2, n)
	req.Equal([]string{"one.txt", "two.txt", "three.txt"}, deliverer.delivered())

	for _, item := range s.Received() {
		req.Equal(StatusDownloaded, item.Status)
	}

	n, err = s.DownloadAllPending(context.Background())
	req.NoError(err)
	req.Zero(n)
}

func TestDownloadAllPendingCountsFailedDeliveries(t *testing.T) {
	req := require.New(t)
	deliverer := &recordingDeliverer{err: errors.New("disk full")}
	s, _ := connectedJoiner(t, Options{Deliverer: deliverer})

	receive(t, s, "one.txt", []byte("1"))
	receive(t, s, "two.txt", []byte("2"))

	n, err := s.DownloadAllPending(context.Background())
	req.Equal(2, n)
	req.ErrorContains(err, "one.txt")
	req.ErrorContains(err, "two.txt")
	for _, item := range s.Received() {
		req.Equal(StatusReceived, item.Status)
	}
}

func TestDownloadAllPendingCancelled(t *testing.T) {
	req := require.New(t)
	s, _ := connectedJoiner(t, Options{})

	receive(t, s, "one.txt", []byte("1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.DownloadAllPending(ctx)
	req.ErrorIs(err, context.Canceled)
	req.Zero(n)
}

func TestReceiverClearedOnClose(t *testing.T) {
	req := require.New(t)
	obs := &recordingObserver{}
	s, _ := connectedJoiner(t, Options{Observer: obs})

	s.OnMessage(encode(t, &protocol.BatchMeta{TotalFiles: 3}))
	receive(t, s, "a.png", []byte("a"))
	s.OnMessage(encode(t, metadataFor("b.png", []byte("b"))))

	req.NoError(s.Close())
	req.Empty(s.Received())
	req.Zero(s.PendingMetadata())
	req.Equal([]int{3}, obs.batches)
	req.ErrorIs(s.DownloadOne(context.Background(), uuid.New()), ErrSessionClosed)
}
