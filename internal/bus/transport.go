package bus

import (
	"context"
	"sync"
)

// Transport moves envelopes between two peers. Send must be safe for
// concurrent use; Recv is called from one goroutine.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Recv(ctx context.Context) (Envelope, error)
	Close() error
}

// pipeEnd is one side of an in-memory transport.
type pipeEnd struct {
	in     <-chan Envelope
	out    chan<- Envelope
	done   chan struct{}
	closer *sync.Once
}

// NewPipe returns two connected in-memory transports.
func NewPipe() (Transport, Transport) {
	ab := make(chan Envelope, 16)
	ba := make(chan Envelope, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: ba, out: ab, done: done, closer: once},
		&pipeEnd{in: ab, out: ba, done: done, closer: once}
}

func (p *pipeEnd) Send(ctx context.Context, env Envelope) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.done:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.closer.Do(func() { close(p.done) })
	return nil
}
