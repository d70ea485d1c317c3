// Package ids hands out process-wide monotonic identifiers for coroutines
// and schedulers.
//
// Grounded on the registry ID counter in the teacher's eventloop package
// (registry.nextID, starting at 1 so 0 stays a null marker) and on
// base-coroutine/src/id.rs from original_source, which defines the same
// wraparound rule: usize::MAX rolls over to 1, never to 0.
package ids

import "sync/atomic"

// Generator is a monotonically increasing counter that never yields 0 and
// wraps from the maximum uint64 back to 1.
type Generator struct {
	next atomic.Uint64
}

// NewGenerator returns a Generator whose first Next() call yields 1.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next identifier, starting at 1. If the counter would
// overflow, it wraps to 1 rather than 0.
func (g *Generator) Next() uint64 {
	for {
		cur := g.next.Load()
		next := cur + 1
		if next == 0 {
			next = 1
		}
		if g.next.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Coroutine and Scheduler are the two process-wide ID generators named in
// the data model: coroutine-id and scheduler-id.
var (
	Coroutine = NewGenerator()
	Scheduler = NewGenerator()
)
