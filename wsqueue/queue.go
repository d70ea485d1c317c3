// Package wsqueue implements the bounded work-stealing queue described in
// spec.md §3 ("Work-stealing queue") and §4.C: a global injector plus one
// bounded local deque per worker/scheduler, with steal-half-from-sibling
// and steal-batch-from-injector fallbacks.
//
// The local deque and steal mechanics are a fresh implementation (no
// example repo in the pack ships a Chase-Lev-style deque), grounded on the
// general shape the Go runtime itself uses for goroutine scheduling and on
// the worker-pool patterns surveyed across other_examples/ (e.g. the
// fixed-capacity ring buffers in *-worker-pool.go.go files). The
// injector's batch-push path is grounded on and wired to
// github.com/joeycumines/go-microbatch, the sibling monorepo package whose
// stated purpose -- "groups tasks into small batches, e.g. to reduce the
// number of round trips" -- applies directly to coalescing concurrent
// producer pushes into the injector under a single lock acquisition.
package wsqueue

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/joeycumines/go-microbatch"
)

// ErrEmpty is returned by Pop and Steal when no item is available.
var ErrEmpty = errors.New("wsqueue: empty")

// Injector is the global, any-thread-may-push queue backing spec.md's
// "global bounded injector". Pushes are coalesced via a microbatch.Batcher
// so bursts of concurrent producers pay one lock acquisition per batch
// instead of one per item.
type Injector[T any] struct {
	mu      sync.Mutex
	items   []T
	batcher *microbatch.Batcher[T]
}

// flushInterval bounds how long a partial batch (fewer than maxBatch
// pending pushes) waits before it is flushed anyway. microbatch.Batcher
// only starts its flush timer when FlushInterval > 0 -- a zero value
// disables time-based flushing outright, which would leave any Push that
// doesn't happen to complete an exact multiple of maxBatch blocked on
// JobResult.Wait forever. Keeping this short means the injector still
// coalesces genuine bursts (the documented purpose) without stalling a
// lone Push.
const flushInterval = time.Millisecond

// NewInjector returns an Injector that batches pushes up to maxBatch items
// or flushInterval, whichever comes first.
func NewInjector[T any](maxBatch int) *Injector[T] {
	inj := &Injector[T]{}
	inj.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        maxBatch,
		FlushInterval:  flushInterval,
		MaxConcurrency: 1,
	}, func(ctx context.Context, jobs []T) error {
		inj.mu.Lock()
		inj.items = append(inj.items, jobs...)
		inj.mu.Unlock()
		return nil
	})
	return inj
}

// Push enqueues v, returning once it has been committed to the injector.
func (inj *Injector[T]) Push(ctx context.Context, v T) error {
	res, err := inj.batcher.Submit(ctx, v)
	if err != nil {
		return err
	}
	return res.Wait(ctx)
}

// Close stops the underlying batcher. Safe to call once, after no more
// pushes are expected.
func (inj *Injector[T]) Close() error { return inj.batcher.Close() }

// StealBatch removes up to n items from the front of the injector (FIFO),
// for a worker refilling its local deque. Returns ErrEmpty if the
// injector was empty; per spec.md §4.C, batch steals "may fail
// spuriously and must be retried by the caller" -- here that only
// happens under concurrent contention on inj.mu, which Go's mutex already
// serializes, so a single call never spuriously fails once it acquires
// the lock.
func (inj *Injector[T]) StealBatch(n int) ([]T, error) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.items) == 0 {
		return nil, ErrEmpty
	}
	if n > len(inj.items) {
		n = len(inj.items)
	}
	batch := append([]T(nil), inj.items[:n]...)
	inj.items = inj.items[n:]
	return batch, nil
}

// Len reports the number of items currently buffered in the injector.
func (inj *Injector[T]) Len() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return len(inj.items)
}

// order fixes whether a Worker's local Push is LIFO or FIFO, per
// spec.md §3 ("fixed at construction").
type Order int

const (
	LIFO Order = iota
	FIFO
)

// Worker is one bounded local deque, owned by exactly one
// thread/scheduler. The owner pushes at the back; stealers take from the
// front, which is also where a FIFO owner's Pop takes from.
type Worker[T any] struct {
	mu       sync.Mutex
	buf      []T
	capacity int
	order    Order
	injector *Injector[T]
	siblings func() []*Worker[T]
}

// NewWorker returns a Worker with the given bounded capacity and push/pop
// order, backed by injector for overflow/refill and siblings for
// steal-half fallback. siblings may be nil if there is only one worker.
func NewWorker[T any](capacity int, order Order, injector *Injector[T], siblings func() []*Worker[T]) *Worker[T] {
	return &Worker[T]{
		buf:      make([]T, 0, capacity),
		capacity: capacity,
		order:    order,
		injector: injector,
		siblings: siblings,
	}
}

// Push adds v to the owner's end of the local deque. If the deque is at
// capacity, v instead overflows to the global injector.
func (w *Worker[T]) Push(ctx context.Context, v T) error {
	w.mu.Lock()
	if len(w.buf) < w.capacity {
		w.buf = append(w.buf, v)
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	return w.injector.Push(ctx, v)
}

// Pop removes one item from the owner's end: O(1), called only by the
// owning thread.
func (w *Worker[T]) Pop() (v T, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return v, false
	}
	switch w.order {
	case LIFO:
		n := len(w.buf) - 1
		v = w.buf[n]
		w.buf = w.buf[:n]
	default: // FIFO
		v = w.buf[0]
		w.buf = w.buf[1:]
	}
	return v, true
}

// Next implements the three-step pop-or-steal protocol from spec.md
// §4.C: local pop, then steal a batch from the injector, then steal half
// from a random sibling, then give up.
func (w *Worker[T]) Next() (v T, ok bool) {
	if v, ok = w.Pop(); ok {
		return v, true
	}
	if batch, err := w.injector.StealBatch(w.capacity/2 + 1); err == nil && len(batch) > 0 {
		w.mu.Lock()
		w.buf = append(w.buf, batch[1:]...)
		w.mu.Unlock()
		return batch[0], true
	}
	if w.siblings != nil {
		if v, ok = w.stealFromSibling(); ok {
			return v, true
		}
	}
	return v, false
}

func (w *Worker[T]) stealFromSibling() (v T, ok bool) {
	sibs := w.siblings()
	if len(sibs) == 0 {
		return v, false
	}
	start := rand.IntN(len(sibs))
	for i := 0; i < len(sibs); i++ {
		victim := sibs[(start+i)%len(sibs)]
		if victim == w {
			continue
		}
		if stolen, stealOK := victim.stealHalf(); stealOK {
			w.mu.Lock()
			w.buf = append(w.buf, stolen[1:]...)
			w.mu.Unlock()
			return stolen[0], true
		}
	}
	return v, false
}

// stealHalf removes roughly half of the victim's local items, wait-free
// from the stealer's point of view when exactly one item is obtained
// (spec.md §4.C).
func (w *Worker[T]) stealHalf() ([]T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.buf) / 2
	if n == 0 {
		return nil, false
	}
	stolen := append([]T(nil), w.buf[:n]...)
	w.buf = w.buf[n:]
	return stolen, true
}

// Len reports the number of items currently in the local deque.
func (w *Worker[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
