// Package transport defines the message channel the transfer session runs on.
package transport

import (
	"context"
	"errors"
	"io"
)

var ErrClosed = errors.New("channel closed")

// Channel is one end of an ordered, reliable, message-oriented link between
// exactly two peers.
type Channel interface {
	Send(data []byte) error
	Close() error
}

// Handler receives the lifecycle events and messages of a Channel. Events
// may be delivered from different goroutines.
type Handler interface {
	OnOpen(ch Channel)
	OnMessage(data []byte)
	OnClose()
	OnError(err error)
}

type Signaler interface {
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}
