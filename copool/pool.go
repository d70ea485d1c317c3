// Package copool implements the elastic coroutine pool described in
// spec.md §3 and §4.I: a work-stealing task queue, a result table keyed
// by task name, and a Running/Stopping/Stopped lifecycle, backed by a
// dedicated scheduler.Scheduler that the pool drives on its own
// background goroutine so it can be used without an event loop (as in
// the task-join-timeout and file-I/O scenarios of spec.md §8).
//
// Grounded on the teacher eventloop package's promise.go for the
// result-table/waiter-channel join pattern, generalized from "one
// promise" to "one named result per task".
package copool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/open-coroutine-go/config"
	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/logging"
	"github.com/joeycumines/open-coroutine-go/scheduler"
	"github.com/joeycumines/open-coroutine-go/wsqueue"
)

// idleSlice is how long a worker with nothing to do waits before
// checking the task queue again, short enough to keep keep-alive
// accounting responsive.
const idleSlice = 5 * time.Millisecond

// growWindow bounds how many non-core workers may be admitted per
// window; a backlogged queue otherwise calls tryGrow once per Submit,
// admitting a full burst of workers for load one or two could absorb.
const growWindow = 50 * time.Millisecond

// Pool is an elastic group of worker coroutines draining a shared task
// queue.
type Pool struct {
	cfg    *config.Config
	sched  *scheduler.Scheduler
	tasks  *wsqueue.Injector[*Task]
	logger logging.Logger

	running atomic.Int64
	state   atomic.Int32
	nextID  atomic.Uint64

	growLimiter *catrate.Limiter

	workersMu sync.Mutex
	workers   []*wsqueue.Worker[*Task]

	mu      sync.Mutex
	results map[string]Result
	waiters map[string]chan struct{}

	stopCh   chan struct{}
	driverWG sync.WaitGroup
}

// New constructs a Pool bound to cfg, starting its background driver
// immediately. min_size workers are warmed eagerly.
func New(cfg *config.Config, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.NoOp
	}
	p := &Pool{
		cfg:     cfg,
		tasks:   wsqueue.NewInjector[*Task](64),
		logger:  logger,
		results: make(map[string]Result),
		waiters: make(map[string]chan struct{}),
		stopCh:  make(chan struct{}),
	}
	if cfg.MaxSize > 0 {
		p.growLimiter = catrate.NewLimiter(map[time.Duration]int{
			growWindow: cfg.MaxSize,
		})
	}
	schedInjector := wsqueue.NewInjector[*coroutine.Coroutine](64)
	p.sched = scheduler.New(schedInjector, 256, wsqueue.FIFO, nil, logger)

	p.driverWG.Add(1)
	go p.drive()

	for i := 0; i < cfg.MinSize; i++ {
		p.tryGrow()
	}
	return p
}

// Submit enqueues a task and returns its name for use with
// WaitTaskResult (package join wraps this into a JoinHandle). It grows
// the pool when running is below min_size, or below max_size while the
// queue is backlogged.
func (p *Pool) Submit(name string, fn func(param any) any, param any) error {
	if name == "" {
		return fmt.Errorf("copool: %w: name must not be empty", coroutine.ErrInvalidArgument)
	}
	if p.cfg.MaxSize == 0 {
		return fmt.Errorf("copool: %w: pool has max_size 0", coroutine.ErrInvalidArgument)
	}
	if State(p.state.Load()) != Running {
		return fmt.Errorf("copool: pool is %s", State(p.state.Load()))
	}
	if err := p.tasks.Push(context.Background(), &Task{Name: name, Fn: fn, Param: param}); err != nil {
		return err
	}
	running := p.running.Load()
	if running < int64(p.cfg.MinSize) || (running < int64(p.cfg.MaxSize) && p.tasks.Len() > 0) {
		p.tryGrow()
	}
	return nil
}

// tryGrow admits one new worker coroutine, per spec.md §4.I, unless the
// pool is already at max_size or not Running.
func (p *Pool) tryGrow() bool {
	if State(p.state.Load()) != Running {
		return false
	}
	if p.running.Load() >= int64(p.cfg.MaxSize) {
		return false
	}
	// Core workers (up to MinSize) are always admitted; only bursts of
	// non-core growth are rate-limited.
	if p.running.Load() >= int64(p.cfg.MinSize) {
		if _, ok := p.growLimiter.Allow(p); !ok {
			return false
		}
	}

	id := p.nextID.Add(1)
	name := fmt.Sprintf("copool-worker-%d", id)

	p.workersMu.Lock()
	localQ := wsqueue.NewWorker[*Task](32, wsqueue.FIFO, p.tasks, p.siblingWorkers)
	p.workers = append(p.workers, localQ)
	p.workersMu.Unlock()

	co, err := coroutine.New(name, p.workerBody(localQ), p.cfg.StackSize, p.logger)
	if err != nil {
		p.logger.Error("copool: failed to allocate worker stack", err)
		return false
	}
	co.AddListener(&workerListener{pool: p})
	p.running.Add(1)
	if err := p.sched.Submit(co); err != nil {
		p.running.Add(-1)
		p.logger.Error("copool: failed to submit worker", err)
		return false
	}
	return true
}

func (p *Pool) siblingWorkers() []*wsqueue.Worker[*Task] {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	return append([]*wsqueue.Worker[*Task](nil), p.workers...)
}

func (p *Pool) workerBody(localQ *wsqueue.Worker[*Task]) coroutine.EntryFunc {
	return func(s *coroutine.Suspender, _ any) any {
		var idleSince time.Time
		for {
			if State(p.state.Load()) != Running {
				// Stopping: finish whatever is still queued, then exit.
				if task, ok := localQ.Next(); ok {
					p.runTask(task)
					continue
				}
				return nil
			}
			task, ok := localQ.Next()
			if ok {
				idleSince = time.Time{}
				p.runTask(task)
				continue
			}
			if p.running.Load() > int64(p.cfg.MinSize) {
				if idleSince.IsZero() {
					idleSince = time.Now()
				} else if time.Since(idleSince) > p.cfg.KeepAlive {
					return nil
				}
			}
			s.DelayWith(nil, idleSlice)
		}
	}
}

func (p *Pool) runTask(t *Task) {
	r := Result{Name: t.Name}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.Err = &coroutine.PanicError{Message: fmt.Sprint(rec)}
			}
		}()
		r.Value = t.Fn(t.Param)
	}()
	p.recordResult(r)
}

func (p *Pool) recordResult(r Result) {
	p.mu.Lock()
	p.results[r.Name] = r
	ch, ok := p.waiters[r.Name]
	if ok {
		delete(p.waiters, r.Name)
	}
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// WaitTaskResult polls the result table and blocks (via the calling
// coroutine's suspender, if non-nil, so the pool stays reentrant per
// spec.md §4.I) until name's result is recorded or deadline elapses.
func (p *Pool) WaitTaskResult(s *coroutine.Suspender, name string, deadline time.Time) (Result, error) {
	for {
		p.mu.Lock()
		if r, ok := p.results[name]; ok {
			p.mu.Unlock()
			return r, nil
		}
		ch, ok := p.waiters[name]
		if !ok {
			ch = make(chan struct{})
			p.waiters[name] = ch
		}
		p.mu.Unlock()

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return Result{}, coroutine.ErrTimeout
		}

		if s != nil {
			wait := idleSlice
			if !deadline.IsZero() {
				if d := time.Until(deadline); d < wait {
					wait = d
				}
			}
			s.DelayWith(nil, wait)
			continue
		}

		if deadline.IsZero() {
			<-ch
			continue
		}
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return Result{}, coroutine.ErrTimeout
		}
	}
}

func (p *Pool) drive() {
	defer p.driverWG.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.sched.TryTimeoutSchedule(time.Now().Add(idleSlice))
		time.Sleep(time.Millisecond)
	}
}

// Stop transitions Running -> Stopping, rejecting new submissions and
// new workers; existing tasks finish naturally as workers drain the
// queue and exit. Stop blocks until every worker has exited or grace
// elapses.
func (p *Pool) Stop(grace time.Duration) error {
	if !p.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return nil
	}
	deadline := time.Now().Add(grace)
	for p.running.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(idleSlice)
	}
	p.state.Store(int32(Stopped))
	close(p.stopCh)
	p.driverWG.Wait()
	if p.running.Load() > 0 {
		return coroutine.ErrTimeout
	}
	return nil
}

// workerListener decrements running on terminal state and, per
// spec.md §4.I, immediately tries to grow a replacement if the worker
// ended via Cancelled or Error (rather than a clean shrink-return).
type workerListener struct {
	coroutine.BaseListener
	pool *Pool
}

func (l *workerListener) OnComplete(*coroutine.Coroutine, any) {
	l.pool.running.Add(-1)
}

func (l *workerListener) OnError(co *coroutine.Coroutine, message string) {
	l.pool.running.Add(-1)
	l.pool.tryGrow()
}

func (l *workerListener) OnStateChanged(co *coroutine.Coroutine, old, next coroutine.State) {
	if next.Kind == coroutine.Cancelled {
		l.pool.running.Add(-1)
		l.pool.tryGrow()
	}
}
