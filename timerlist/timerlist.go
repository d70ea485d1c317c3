// Package timerlist implements the ordered timestamp -> FIFO-bucket
// multimap described in spec.md §3 ("Timer list") and §4.B, used by the
// scheduler for suspended coroutines and by the monitor for preemption
// deadlines.
//
// Grounded on the teacher eventloop package's loop.go, which keeps a
// container/heap min-heap of (time, callback) pairs (type timerHeap). This
// package generalizes that to a true multimap: distinct timestamps are
// tracked in a heap for O(log n) insert / O(1) peek-min, while same-
// timestamp values share a FIFO bucket (container/list) so insertion
// order is preserved within a bucket, matching the Timer list invariants
// in spec.md §3 and the round-trip laws in §8.
package timerlist

import (
	"container/heap"
	"container/list"
)

// List is an ordered multimap from a uint64 timestamp to a FIFO queue of
// values. It is not safe for concurrent use; callers (scheduler, monitor)
// serialize access themselves.
type List[T any] struct {
	h       tsHeap
	buckets map[uint64]*list.List
	count   int
}

type tsHeap []uint64

func (h tsHeap) Len() int            { return len(h) }
func (h tsHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tsHeap) Push(x any)         { *h = append(*h, x.(uint64)) }
func (h *tsHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// New returns an empty List.
func New[T any]() *List[T] {
	return &List[T]{buckets: make(map[uint64]*list.List)}
}

// Len returns the total number of values across all buckets, in O(1).
func (l *List[T]) Len() int { return l.count }

// EntryLen returns the number of values stored at ts.
func (l *List[T]) EntryLen(ts uint64) int {
	b, ok := l.buckets[ts]
	if !ok {
		return 0
	}
	return b.Len()
}

// Insert adds v to the bucket at ts, preserving insertion order within
// that bucket. O(log n) when ts is a new timestamp, O(1) otherwise.
func (l *List[T]) Insert(ts uint64, v T) {
	b, ok := l.buckets[ts]
	if !ok {
		b = list.New()
		l.buckets[ts] = b
		heap.Push(&l.h, ts)
	}
	b.PushBack(v)
	l.count++
}

// Front returns the smallest timestamp present and a snapshot of its
// bucket's values in insertion order, without removing anything.
func (l *List[T]) Front() (ts uint64, values []T, ok bool) {
	if len(l.h) == 0 {
		return 0, nil, false
	}
	ts = l.h[0]
	b := l.buckets[ts]
	values = make([]T, 0, b.Len())
	for e := b.Front(); e != nil; e = e.Next() {
		values = append(values, e.Value.(T))
	}
	return ts, values, true
}

// PopFront removes and returns the entire bucket at the smallest
// timestamp. O(log n).
func (l *List[T]) PopFront() (ts uint64, values []T, ok bool) {
	if len(l.h) == 0 {
		return 0, nil, false
	}
	ts = heap.Pop(&l.h).(uint64)
	b := l.buckets[ts]
	delete(l.buckets, ts)
	values = make([]T, 0, b.Len())
	for e := b.Front(); e != nil; e = e.Next() {
		values = append(values, e.Value.(T))
	}
	l.count -= len(values)
	return ts, values, true
}

// DrainDue moves every bucket whose timestamp is <= now into fn, in
// nondecreasing timestamp order, removing them from the list. Matches the
// scheduler's "move any timer-list entries whose ts <= now back into the
// ready queue" step (spec.md §4.G).
func (l *List[T]) DrainDue(now uint64, fn func(ts uint64, v T)) {
	for len(l.h) > 0 && l.h[0] <= now {
		ts, values, _ := l.PopFront()
		for _, v := range values {
			fn(ts, v)
		}
	}
}

// Remove deletes the first value equal to v (per eq) found in the bucket
// at ts, preserving the order of the remaining values. Returns the
// removed value and true if found.
func (l *List[T]) Remove(ts uint64, eq func(T) bool) (v T, ok bool) {
	b, exists := l.buckets[ts]
	if !exists {
		return v, false
	}
	for e := b.Front(); e != nil; e = e.Next() {
		if eq(e.Value.(T)) {
			v = e.Value.(T)
			b.Remove(e)
			l.count--
			if b.Len() == 0 {
				delete(l.buckets, ts)
				l.removeFromHeap(ts)
			}
			return v, true
		}
	}
	return v, false
}

func (l *List[T]) removeFromHeap(ts uint64) {
	for i, t := range l.h {
		if t == ts {
			heap.Remove(&l.h, i)
			return
		}
	}
}
