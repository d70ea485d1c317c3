// Package opencoroutine assembles the runtime described in spec.md §2's
// component table and exposes the public entry points from §6: install
// the event loops (Init), submit tasks against the shared pool
// (SubmitTask), join their results (Handle.Join/TimeoutJoin), run a
// callback on a fresh stack when the current one is short
// (MaybeGrowStack), and quiesce everything again (Stop).
//
// Each of the underlying packages (scheduler, evloop, copool, monitor,
// syscallchain) is usable on its own; this package is the wiring layer
// that binds event_loop_size of them together the way the original's
// C-ABI init does: one selector+scheduler pair per OS thread, a single
// shared coroutine pool, the process-global preemption monitor attached
// to every scheduler, and the hook flag deciding whether syscall chains
// route through the event loops or call straight through to Raw.
package opencoroutine

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/open-coroutine-go/beans"
	"github.com/joeycumines/open-coroutine-go/config"
	"github.com/joeycumines/open-coroutine-go/copool"
	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/evloop"
	"github.com/joeycumines/open-coroutine-go/join"
	"github.com/joeycumines/open-coroutine-go/logging"
	"github.com/joeycumines/open-coroutine-go/monitor"
	"github.com/joeycumines/open-coroutine-go/scheduler"
	"github.com/joeycumines/open-coroutine-go/stack"
	"github.com/joeycumines/open-coroutine-go/syscallchain"
	"github.com/joeycumines/open-coroutine-go/wsqueue"
)

// BeanRuntime is the bean-factory key the installed Runtime is published
// under, so code holding neither a *Runtime nor an import path back to
// its creator can still find it via beans.Default().
const BeanRuntime = "open-coroutine.runtime"

// Runtime owns everything Init installs. All methods are safe for
// concurrent use.
type Runtime struct {
	cfg    *config.Config
	logger logging.Logger

	loops  []*evloop.EventLoop
	pool   *copool.Pool
	stacks *stack.Pool

	next     atomic.Uint64
	stopOnce sync.Once
	stopErr  error
}

// Init builds a validated config from opts and installs the runtime:
// event_loop_size event-loop threads (each a selector bound to a
// scheduler, pinned to its own OS thread), one shared coroutine pool,
// the process-global monitor's creator-listener on every scheduler, and
// a pre-warmed stack pool per min_memory_count/memory_keep_alive. The
// returned Runtime is also published under BeanRuntime in the default
// bean factory.
func Init(logger logging.Logger, opts ...config.Option) (*Runtime, error) {
	cfg, err := config.New(opts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoOp
	}

	stacks, err := stack.NewPool(stack.Options{Size: cfg.StackSize, Guard: true}, cfg.MinMemoryCount, cfg.MemoryKeepAlive)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{cfg: cfg, logger: logger, stacks: stacks}

	injector := wsqueue.NewInjector[*coroutine.Coroutine](256)
	var schedsMu sync.Mutex
	scheds := make([]*scheduler.Scheduler, 0, cfg.EventLoopSize)
	// Consulted lazily by each worker's steal path, possibly while later
	// schedulers are still being appended below.
	siblings := func() []*wsqueue.Worker[*coroutine.Coroutine] {
		schedsMu.Lock()
		defer schedsMu.Unlock()
		workers := make([]*wsqueue.Worker[*coroutine.Coroutine], 0, len(scheds))
		for _, s := range scheds {
			workers = append(workers, s.LocalWorker())
		}
		return workers
	}

	mon := monitor.Global()
	for i := 0; i < cfg.EventLoopSize; i++ {
		sched := scheduler.New(injector, 256, wsqueue.FIFO, siblings, logger)
		sched.AddListener(monitor.NewCreatorListener(mon, config.Slice))
		loop, err := evloop.New(sched, logger)
		if err != nil {
			for _, l := range rt.loops {
				l.Stop(0)
			}
			stacks.Close()
			return nil, err
		}
		schedsMu.Lock()
		scheds = append(scheds, sched)
		schedsMu.Unlock()
		rt.loops = append(rt.loops, loop)
		go func(l *evloop.EventLoop) {
			// One event loop per OS thread, per spec.md §5's scheduling
			// model.
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			l.Run()
		}(loop)
	}

	rt.pool = copool.New(cfg, logger)

	beans.Init(beans.Default(), BeanRuntime, rt)
	logger.Info("open-coroutine: runtime installed",
		logging.F("event_loops", cfg.EventLoopSize),
		logging.F("hook_enabled", cfg.HookEnabled))
	return rt, nil
}

// Default returns the Runtime most recently installed by Init, if any.
func Default() (*Runtime, bool) {
	return beans.Get[*Runtime](beans.Default(), BeanRuntime)
}

// Config returns the validated configuration the runtime was built with.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Pool returns the shared coroutine pool.
func (rt *Runtime) Pool() *copool.Pool { return rt.pool }

// NextLoop returns one of the installed event loops, round-robin, for
// callers that need to bind a coroutine or a syscall chain to a
// particular loop.
func (rt *Runtime) NextLoop() *evloop.EventLoop {
	n := rt.next.Add(1)
	return rt.loops[(n-1)%uint64(len(rt.loops))]
}

// NewChain builds a syscall chain against the next event loop, or a
// direct chain when hook_enabled is off (spec.md §6: "off = direct
// raw").
func (rt *Runtime) NewChain(raw syscallchain.Raw, wouldBlock syscallchain.Classifier) *syscallchain.Chain {
	if !rt.cfg.HookEnabled {
		return syscallchain.NewDirectChain(raw)
	}
	if wouldBlock == nil {
		wouldBlock = syscallchain.DefaultClassifier(nil)
	}
	return syscallchain.NewChain(rt.NextLoop(), raw, wouldBlock)
}

// SubmitTask submits a named task to the shared pool and returns its
// join handle, per spec.md §6's task_crate.
func (rt *Runtime) SubmitTask(name string, fn func(param any) any, param any) (join.Handle, error) {
	if err := rt.pool.Submit(name, fn, param); err != nil {
		return nil, err
	}
	return join.NewPoolJoin(name, rt.poolWaiter())
}

func (rt *Runtime) poolWaiter() func(name string, deadline time.Time) (any, error, bool) {
	return func(name string, deadline time.Time) (any, error, bool) {
		r, err := rt.pool.WaitTaskResult(nil, name, deadline)
		if errors.Is(err, coroutine.ErrTimeout) {
			return nil, nil, false
		}
		if err != nil {
			return nil, err, true
		}
		return r.Value, r.Err, true
	}
}

// SubmitCoroutine admits a coroutine directly to one of the event loops
// (round-robin) rather than through the pool's task queue, returning the
// event-loop join flavor from spec.md §4.L.
func (rt *Runtime) SubmitCoroutine(name string, entry coroutine.EntryFunc, stackSize int) (join.Handle, error) {
	if stackSize <= 0 {
		stackSize = rt.cfg.StackSize
	}
	co, err := coroutine.New(name, entry, stackSize, rt.logger)
	if err != nil {
		return nil, err
	}
	loop := rt.NextLoop()
	if err := loop.Scheduler.Submit(co); err != nil {
		return nil, err
	}
	sched := loop.Scheduler
	inner, err := join.NewPoolJoin(name, func(name string, deadline time.Time) (any, error, bool) {
		r, err := sched.WaitResult(name, deadline)
		if errors.Is(err, coroutine.ErrTimeout) {
			return nil, nil, false
		}
		return r.Value, r.Err, true
	})
	if err != nil {
		return nil, err
	}
	return join.NewEventLoopJoin(inner), nil
}

// JoinTask blocks until h resolves, per spec.md §6's task_join.
func JoinTask(h join.Handle) (any, error) { return h.Join() }

// TimeoutJoinTask blocks until h resolves or d elapses, per spec.md §6's
// task_timeout_join.
func TimeoutJoinTask(h join.Handle, d time.Duration) (any, error) { return h.TimeoutJoin(d) }

// MaybeGrowStack is spec.md §6's maybe_grow_stack: run fn(param) on a
// fresh stack drawn from the runtime's stack pool if fewer than redZone
// bytes of the calling coroutine's stack budget remain. Must be called
// from inside a coroutine; frameSize is the caller's declared per-call
// stack cost (see coroutine.MaybeGrow). The fresh stack has the pool's
// configured StackSize; stackSize is not used.
func (rt *Runtime) MaybeGrowStack(s *coroutine.Suspender, redZone, stackSize, frameSize int, fn func(param any) any, param any) (any, error) {
	return s.MaybeGrow(rt.stacks, redZone, stackSize, frameSize, fn, param)
}

// Stop initiates quiescence per spec.md §6's open_coroutine_stop: stop
// the pool, drain every event loop up to grace, release the stack pool,
// and withdraw the runtime bean. Returns coroutine.ErrTimeout if
// anything failed to drain in time.
func (rt *Runtime) Stop(grace time.Duration) error {
	rt.stopOnce.Do(func() {
		deadline := time.Now().Add(grace)
		if err := rt.pool.Stop(grace); err != nil {
			rt.stopErr = err
		}
		for _, l := range rt.loops {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			if !l.Stop(remaining) {
				rt.stopErr = coroutine.ErrTimeout
			}
		}
		rt.stacks.Close()
		beans.Remove(beans.Default(), BeanRuntime)
	})
	return rt.stopErr
}
