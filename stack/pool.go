package stack

import (
	"sync"
	"time"
)

// Pool is a bounded, idle-timeout-aware pool of pre-allocated stacks,
// distinct from the coroutine worker pool (package copool).
//
// Grounded on original_source's core/src/common/memory_pool.rs and
// object-list/src/lib.rs: the original keeps a free list of reusable
// stack slots so short-lived tasks don't pay an mmap/munmap round trip.
// This is a direct supplement named in SPEC_FULL.md's "SUPPLEMENTED
// FEATURES" section, backing config.Config's MinMemoryCount/
// MemoryKeepAlive fields.
type Pool struct {
	opts      Options
	minCount  int
	keepAlive time.Duration

	mu   sync.Mutex
	idle []pooledStack
}

type pooledStack struct {
	s         Stack
	returnedAt time.Time
}

// NewPool builds a Pool that allocates stacks per opts and pre-warms
// minCount of them, reclaiming idle ones past keepAlive.
func NewPool(opts Options, minCount int, keepAlive time.Duration) (*Pool, error) {
	p := &Pool{opts: opts, minCount: minCount, keepAlive: keepAlive}
	for i := 0; i < minCount; i++ {
		s, err := Allocate(opts)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idle = append(p.idle, pooledStack{s: s, returnedAt: time.Time{}})
	}
	return p, nil
}

// Get returns a pooled stack if one is idle, otherwise allocates a fresh
// one.
func (p *Pool) Get() (Stack, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		ps := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ps.s, nil
	}
	p.mu.Unlock()
	return Allocate(p.opts)
}

// Put returns s to the pool, first reaping idle stacks beyond minCount
// that are past keepAlive. s itself is released immediately instead of
// retained only when keepAlive is non-positive and the pool already
// holds at least minCount idle stacks.
func (p *Pool) Put(s Stack) {
	now := time.Now()
	p.mu.Lock()
	p.reap(now)
	release := len(p.idle) >= p.minCount && p.keepAlive <= 0
	if !release {
		p.idle = append(p.idle, pooledStack{s: s, returnedAt: now})
	}
	p.mu.Unlock()
	if release {
		_ = s.Release()
	}
}

// reap releases idle stacks beyond minCount that have sat longer than
// keepAlive. Caller must hold p.mu.
func (p *Pool) reap(now time.Time) {
	if p.keepAlive <= 0 {
		return
	}
	kept := p.idle[:0]
	for _, ps := range p.idle {
		if len(kept) < p.minCount || ps.returnedAt.IsZero() || now.Sub(ps.returnedAt) < p.keepAlive {
			kept = append(kept, ps)
			continue
		}
		_ = ps.s.Release()
	}
	p.idle = kept
}

// Close releases every pooled stack.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ps := range p.idle {
		_ = ps.s.Release()
	}
	p.idle = nil
}
