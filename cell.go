package stash

import "sync"

// Cell is an explicit observable value. Notifications are delivered in store
// order by one goroutine at a time, so the last value a subscriber sees is the
// value Get returns once writers are done. A Set from inside a subscriber is
// delivered after that subscriber returns.
type Cell[T any] struct {
	mu        sync.RWMutex
	value     T
	listeners []*cellListener[T]
	queue     []T
	draining  bool
}

type cellListener[T any] struct {
	fn func(T)
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores value and notifies subscribers.
func (c *Cell[T]) Set(value T) {
	c.store(value)
	c.notify()
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is safe.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	listener := &cellListener[T]{fn: fn}
	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, candidate := range c.listeners {
				if candidate == listener {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// store sets the value and queues it for delivery by the next notify.
func (c *Cell[T]) store(value T) {
	c.mu.Lock()
	c.value = value
	c.queue = append(c.queue, value)
	c.mu.Unlock()
}

// notify delivers queued values unless another goroutine is already doing so.
func (c *Cell[T]) notify() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.mu.Unlock()

	finished := false
	defer func() {
		if !finished {
			c.mu.Lock()
			c.draining = false
			c.queue = nil
			c.mu.Unlock()
		}
	}()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			finished = true
			c.mu.Unlock()
			return
		}
		value := c.queue[0]
		var zero T
		c.queue[0] = zero
		c.queue = c.queue[1:]
		listeners := append([]*cellListener[T](nil), c.listeners...)
		c.mu.Unlock()

		for _, listener := range listeners {
			listener.fn(value)
		}
	}
}
