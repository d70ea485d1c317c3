package monitor_test

import (
	"testing"
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/monitor"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequestsPreemptAfterSliceWhenStillRunning(t *testing.T) {
	m := monitor.New(time.Millisecond, nil)
	defer m.Close()

	// The monitor only delivers a preemption request while its target's
	// last observed state is Running, so the target coroutine needs a
	// window where it is genuinely still running when the sweep fires.
	blocked := make(chan struct{})
	co2, err := coroutine.New("mon-2", func(s *coroutine.Suspender, _ any) any {
		close(blocked)
		time.Sleep(50 * time.Millisecond)
		return nil
	}, 32*1024, nil)
	require.NoError(t, err)

	m.Submit(co2, 5*time.Millisecond)

	done := make(chan coroutine.State, 1)
	go func() { done <- co2.Resume(nil) }()

	<-blocked
	require.Eventually(t, func() bool {
		return co2.ConsumePreempt()
	}, time.Second, time.Millisecond)

	<-done
}

func TestRemoveDisarmsPendingDeadlineBeforeItFires(t *testing.T) {
	m := monitor.New(time.Millisecond, nil)
	defer m.Close()

	co, err := coroutine.New("mon-3", func(*coroutine.Suspender, any) any { return nil }, 32*1024, nil)
	require.NoError(t, err)

	m.Submit(co, 5*time.Millisecond)
	m.Remove(co)

	time.Sleep(20 * time.Millisecond)
	require.False(t, co.ConsumePreempt())
}

func TestPreemptionNotDeliveredOnceCoroutineLeftRunning(t *testing.T) {
	m := monitor.New(time.Millisecond, nil)
	defer m.Close()

	co, err := coroutine.New("mon-4", func(s *coroutine.Suspender, _ any) any {
		s.SuspendWith(nil)
		return nil
	}, 32*1024, nil)
	require.NoError(t, err)

	m.Submit(co, 5*time.Millisecond)
	final := co.Resume(nil) // leaves Running almost immediately, into Suspend
	require.Equal(t, coroutine.Suspend, final.Kind)
	m.Remove(co)

	time.Sleep(20 * time.Millisecond)
	require.False(t, co.ConsumePreempt())
}

func TestGlobalReturnsSameInstance(t *testing.T) {
	require.Same(t, monitor.Global(), monitor.Global())
}
