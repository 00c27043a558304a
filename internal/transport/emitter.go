// ABOUTME: Bounded event queue shared by transport implementations
// ABOUTME: Emits block until the consumer reads or the connection is closed

package transport

import (
	"sync"
)

// Emitter owns a Conn's event channel. Callback-driven client libraries call
// Emit from their own goroutines; the supervisor drains Events.
type Emitter struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 32
	}
	return &Emitter{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Events returns the receive side of the queue.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit queues an event. It returns false if the emitter was closed first.
func (e *Emitter) Emit(evt Event) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	select {
	case e.ch <- evt:
		return true
	case <-e.done:
		return false
	}
}

// Done is closed when the emitter shuts down.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// Close unblocks pending emits and closes the event channel once they return.
// Safe to call multiple times.
func (e *Emitter) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		close(e.done)
		e.wg.Wait()
		close(e.ch)
	})
}
