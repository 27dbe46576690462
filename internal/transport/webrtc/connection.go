package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

const (
	bufferedHighWater = 1 << 20
	bufferedLowWater  = 256 << 10
)

// channel adapts a DataChannel to transport.Channel. Send blocks while the
// outgoing buffer is above the high water mark.
type channel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	drained   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Channel = (*channel)(nil)

func newChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, h transport.Handler) *channel {
	c := &channel{
		pc:      pc,
		dc:      dc,
		drained: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(bufferedLowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drained <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		h.OnOpen(c)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h.OnMessage(msg.Data)
	})

	dc.OnError(func(err error) {
		h.OnError(fmt.Errorf("data channel: %w", err))
	})

	dc.OnClose(func() {
		c.markDone()
		h.OnClose()
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed {
			c.markDone()
			h.OnError(fmt.Errorf("peer connection %s", s))
		}
	})

	return c
}

func (c *channel) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *channel) Send(data []byte) error {
	for c.dc.BufferedAmount() > bufferedHighWater {
		select {
		case <-c.drained:
		case <-c.done:
			return transport.ErrClosed
		}
	}

	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	if err := c.dc.Send(data); err != nil {
		return fmt.Errorf("failed to send on data channel: %w", err)
	}
	return nil
}

func (c *channel) Close() error {
	c.markDone()
	_ = c.dc.Close()
	return c.pc.Close()
}
