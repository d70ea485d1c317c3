// Package monitor implements the process-global preemption monitor from
// spec.md §3 and §4.H: a single background goroutine holding a
// TimerList[PreemptionTarget], sweeping it once per tick and delivering
// a preemption request to every target still Running.
//
// # Signal delivery versus cooperative preemption
//
// The source project delivers an honest asynchronous OS signal
// (SIGURG/SIGRTMIN/an APC) to the specific OS thread running an
// overrunning coroutine, whose handler forces a yield without the
// running code's cooperation. Go has no supported way to install a
// signal handler that reaches into another goroutine's execution and
// forces it to resume scheduler code -- signal.Notify delivers on an
// arbitrary goroutine, not the one to interrupt, and there is no Go API
// for asynchronously unwinding a goroutine from the outside.
//
// Go's own runtime already preempts CPU-bound goroutines at the
// scheduler level (async preemption since Go 1.14), so a coroutine that
// never suspends cannot starve the rest of the process the way it could
// in a single-OS-thread-per-event-loop model written in C. What Go
// cannot do is force a coroutine to give back control of the *logical*
// scheduler it is bound to mid-instruction: there is no API to unwind an
// arbitrary running goroutine from the outside. This package's delivery
// is therefore cooperative, not truly asynchronous: it flips an atomic
// flag on the target coroutine (Coroutine.RequestPreempt), which a
// coroutine notices only at a checkpoint it chooses to reach itself (a
// suspension point, or the syscall chain's slice loop).
//
// That flag alone cannot satisfy spec.md §8 scenario 3 ("c3 runs
// despite c1/c2 never yielding voluntarily"): a coroutine that never
// reaches any checkpoint never notices it. The actual guarantee that
// scenario needs -- that siblings still get to run -- is enforced one
// layer down, in package scheduler: TryTimeoutSchedule bounds every
// Resume call by a Slice-sized wait and moves on to the next ready
// coroutine regardless of whether the overrunning one ever yields. This
// package's RequestPreempt flag remains useful on top of that for
// coroutines that do reach a cooperative checkpoint (they notice and
// unwind promptly instead of waiting out their full slice first), but it
// is a refinement, not the mechanism that keeps the ready queue moving.
package monitor

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/timerlist"
)

// PreemptionTarget binds a coroutine to the deadline by which it should
// have yielded, per spec.md §4.H.
type PreemptionTarget struct {
	Coroutine *coroutine.Coroutine
}

// Monitor is the single process-global preemption sweeper. Use Global
// for the process-wide instance; tests may construct their own with New
// for isolation.
type Monitor struct {
	tick    time.Duration
	limiter *catrate.Limiter

	mu      sync.Mutex
	timers  *timerlist.List[*PreemptionTarget]
	pending map[*coroutine.Coroutine]uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New starts a Monitor that sweeps every tick (spec.md's default Slice
// is 10ms; the monitor itself defaults to 1ms per spec.md §4.H).
// Delivery is rate-limited via limiter so a burst of simultaneously
// overrunning coroutines cannot storm the scheduler with wakeups in the
// same tick; pass nil for no limiting.
func New(tick time.Duration, limiter *catrate.Limiter) *Monitor {
	if tick <= 0 {
		tick = time.Millisecond
	}
	m := &Monitor{
		tick:    tick,
		limiter: limiter,
		timers:  timerlist.New[*PreemptionTarget](),
		pending: make(map[*coroutine.Coroutine]uint64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go m.run()
	return m
}

// Submit arms a preemption deadline of now+slice for co. Called by the
// scheduler's monitor creator-listener on every transition into Running.
func (m *Monitor) Submit(co *coroutine.Coroutine, slice time.Duration) {
	ts := uint64(time.Now().Add(slice).UnixNano())
	m.mu.Lock()
	if oldTS, ok := m.pending[co]; ok {
		m.timers.Remove(oldTS, func(t *PreemptionTarget) bool { return t.Coroutine == co })
	}
	m.pending[co] = ts
	m.timers.Insert(ts, &PreemptionTarget{Coroutine: co})
	m.mu.Unlock()
}

// Remove disarms co's pending preemption deadline. Called on suspend,
// complete, error, or cancellation.
func (m *Monitor) Remove(co *coroutine.Coroutine) {
	m.mu.Lock()
	ts, ok := m.pending[co]
	if ok {
		delete(m.pending, co)
		m.timers.Remove(ts, func(t *PreemptionTarget) bool { return t.Coroutine == co })
	}
	m.mu.Unlock()
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := uint64(time.Now().UnixNano())
	var due []*PreemptionTarget
	m.mu.Lock()
	m.timers.DrainDue(now, func(_ uint64, t *PreemptionTarget) {
		delete(m.pending, t.Coroutine)
		due = append(due, t)
	})
	m.mu.Unlock()

	for _, t := range due {
		if t.Coroutine.State().Kind != coroutine.Running {
			continue // already left Running; spec.md §4.H/invariant 5
		}
		if m.limiter != nil {
			if _, ok := m.limiter.Allow(t.Coroutine); !ok {
				continue
			}
		}
		t.Coroutine.RequestPreempt()
	}
}

// Close stops the sweeper goroutine and waits for it to exit.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

var (
	globalMu   sync.Mutex
	globalInst *Monitor
)

// Global returns the process-wide Monitor, starting it lazily on first
// use per spec.md §4.H ("started lazily on first scheduler init").
func Global() *Monitor {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalInst == nil {
		globalInst = New(time.Millisecond, catrate.NewLimiter(map[time.Duration]int{
			100 * time.Millisecond: 1000,
		}))
	}
	return globalInst
}
