package transport

import (
	"bytes"
	"sync"
)

const pipeBufferSize = 1024

// Pipe connects two Handlers in memory. Messages are delivered in order, one
// goroutine per direction.
type Pipe struct {
	a, b *pipeEnd

	done      chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once
}

type pipeEnd struct {
	pipe    *Pipe
	peer    *pipeEnd
	handler Handler
	inbox   chan []byte
}

func NewPipe(a, b Handler) *Pipe {
	p := &Pipe{done: make(chan struct{})}
	p.a = &pipeEnd{pipe: p, handler: a, inbox: make(chan []byte, pipeBufferSize)}
	p.b = &pipeEnd{pipe: p, handler: b, inbox: make(chan []byte, pipeBufferSize)}
	p.a.peer, p.b.peer = p.b, p.a
	return p
}

// Open fires OnOpen on both handlers and starts delivery.
func (p *Pipe) Open() {
	p.openOnce.Do(func() {
		p.a.handler.OnOpen(p.a)
		p.b.handler.OnOpen(p.b)
		go p.a.deliver()
		go p.b.deliver()
	})
}

// Close shuts both ends and fires OnClose on both handlers. Messages still
// queued are dropped.
func (p *Pipe) Close() error {
	p.shutdown(func(h Handler) { h.OnClose() })
	return nil
}

// Fail shuts both ends and reports err to both handlers.
func (p *Pipe) Fail(err error) {
	p.shutdown(func(h Handler) { h.OnError(err) })
}

func (p *Pipe) shutdown(notify func(Handler)) {
	p.closeOnce.Do(func() {
		close(p.done)
		notify(p.a.handler)
		notify(p.b.handler)
	})
}

func (e *pipeEnd) Send(data []byte) error {
	select {
	case <-e.pipe.done:
		return ErrClosed
	default:
	}

	select {
	case e.peer.inbox <- bytes.Clone(data):
		return nil
	case <-e.pipe.done:
		return ErrClosed
	}
}

func (e *pipeEnd) Close() error {
	return e.pipe.Close()
}

func (e *pipeEnd) deliver() {
	for {
		select {
		case <-e.pipe.done:
			return
		case msg := <-e.inbox:
			e.handler.OnMessage(msg)
		}
	}
}
