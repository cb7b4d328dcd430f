package syncer

import (
	"context"
	"sync"

	"github.com/goliatone/go-stash/layering"
)

// Bus is an in-process broadcast channel. Each context connects through its
// own Endpoint; a publish reaches every other endpoint synchronously, and the
// publishing endpoint too when loop-back is enabled.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
	loopBack  bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLoopBack delivers messages back to the publishing endpoint.
func WithLoopBack() BusOption {
	return func(b *Bus) {
		b.loopBack = true
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{endpoints: map[*Endpoint]struct{}{}}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Endpoint returns a new Transport attached to the bus.
func (b *Bus) Endpoint() *Endpoint {
	e := &Endpoint{bus: b}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *Bus) deliver(from *Endpoint, msg Message) {
	b.mu.RLock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		if e == from && !b.loopBack {
			continue
		}
		targets = append(targets, e)
	}
	b.mu.RUnlock()

	for _, e := range targets {
		for _, handler := range e.handlers() {
			copied := msg
			copied.State = layering.Clone(msg.State)
			handler(copied)
		}
	}
}

// Endpoint is one context's connection to a Bus.
type Endpoint struct {
	bus  *Bus
	mu   sync.RWMutex
	subs []*busSubscription
}

type busSubscription struct {
	fn func(Message)
}

var _ Transport = (*Endpoint)(nil)

func (e *Endpoint) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.bus.deliver(e, msg)
	return nil
}

func (e *Endpoint) Subscribe(handler func(Message)) (func(), error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	sub := &busSubscription{fn: handler}
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, candidate := range e.subs {
				if candidate == sub {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}, nil
}

// Close detaches the endpoint from the bus.
func (e *Endpoint) Close() {
	e.bus.mu.Lock()
	delete(e.bus.endpoints, e)
	e.bus.mu.Unlock()
}

func (e *Endpoint) handlers() []func(Message) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]func(Message), 0, len(e.subs))
	for _, sub := range e.subs {
		out = append(out, sub.fn)
	}
	return out
}
