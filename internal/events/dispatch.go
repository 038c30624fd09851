package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives filtered, redacted events.
type Sink interface {
	Emit(Event)
	Close() error
}

const defaultSinkBuffer = 256

type sinkWorker struct {
	sink Sink
	role Role
	ch   chan Event
}

// Dispatcher fans events out to sinks. Publish never blocks: each sink
// gets a buffered channel drained by its own goroutine, and an event
// that finds the buffer full is dropped and counted.
type Dispatcher struct {
	mu      sync.Mutex
	workers []*sinkWorker
	wg      sync.WaitGroup
	buffer  int
	dropped atomic.Uint64
	closed  bool
}

// NewDispatcher creates a dispatcher whose sinks buffer up to buffer
// events each.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	return &Dispatcher{buffer: buffer}
}

// Attach registers a sink with the privilege of its consumer. Must not
// be called after Close.
func (d *Dispatcher) Attach(sink Sink, role Role) {
	w := &sinkWorker{sink: sink, role: role, ch: make(chan Event, d.buffer)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.workers = append(d.workers, w)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range w.ch {
			w.sink.Emit(ev)
		}
	}()
}

// Publish redacts the event text, stamps the time if unset and offers
// the event to every sink whose role may see it. The lock is held
// across the sends: Close marks the dispatcher closed under the same
// lock before closing any worker channel, so a send can never race a
// channel close. The sends are non-blocking, so holding the lock here
// never stalls on a slow sink.
func (d *Dispatcher) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	ev.Text = Redact(ev.Text)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	for _, w := range d.workers {
		if !ev.VisibleTo(w.role) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			d.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were lost to full sink buffers.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close drains every sink buffer, waits for the workers and closes the
// sinks.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	workers := d.workers
	d.mu.Unlock()

	for _, w := range workers {
		close(w.ch)
	}
	d.wg.Wait()

	var firstErr error
	for _, w := range workers {
		if err := w.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
