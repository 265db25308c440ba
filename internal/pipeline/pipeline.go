// Package pipeline implements the unbounded multi-producer/single-consumer
// queue of decoded records between the reactor and the dispatcher. In this
// design there is exactly one producer (the reactor), but the queue is built
// to the general MPSC contract the spec describes so a future second
// producer would not need a different primitive.
//
// Unbounded is a deliberate choice, not an oversight: the reactor must never
// block on a slow sink, so growth is preferred to backpressure. A bounded,
// drop-oldest/drop-newest/block variant is the natural redesign if memory
// pressure becomes an operational problem; see the open design note this
// package's godoc links back to.
package pipeline

import (
	"sync"

	"github.com/bord81/notcatd/internal/wire"
)

// Pipeline is a growable FIFO queue of wire.Record guarded by a
// sync.Mutex/sync.Cond pair. A condition variable, rather than a buffered
// channel, is used because the queue has no fixed capacity: a channel would
// need an arbitrary bound or a goroutine-per-send fan-in, neither of which
// matches "unbounded, single consumer, blocking receive."
type Pipeline struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []wire.Record
	closed bool
}

// New constructs an open Pipeline ready to receive records.
func New() *Pipeline {
	p := &Pipeline{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Send enqueues a record. It reports false if the pipeline has been closed,
// meaning the dispatcher is gone and the decoder should treat the attempt as
// protocol.ErrInternal.
func (p *Pipeline) Send(r wire.Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.items = append(p.items, r)
	p.cond.Signal()
	return true
}

// Recv blocks until a record is available or the pipeline is closed and
// drained. The second return value is false only once the queue is both
// closed and empty, signalling the dispatcher to exit its loop.
func (p *Pipeline) Recv() (wire.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.items) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.items) == 0 {
		return wire.Record{}, false
	}
	r := p.items[0]
	p.items[0] = wire.Record{}
	p.items = p.items[1:]
	return r, true
}

// Close marks the pipeline closed. Already-enqueued records are still
// delivered by Recv; Send after Close always fails.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// TryRecv returns the next record without blocking, reporting false if the
// queue is currently empty. Decoder and reactor tests use this to assert on
// what was enqueued without needing a concurrent consumer goroutine.
func (p *Pipeline) TryRecv() (wire.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return wire.Record{}, false
	}
	r := p.items[0]
	p.items[0] = wire.Record{}
	p.items = p.items[1:]
	return r, true
}

// Len reports the number of records currently queued. Test-only.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
