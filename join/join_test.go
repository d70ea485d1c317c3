package join_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/open-coroutine-go/join"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerJoinRejectsEmptyName(t *testing.T) {
	_, err := join.NewSchedulerJoin("", func(time.Time) bool { return true }, func(string) (any, error, bool) { return nil, nil, false })
	require.Error(t, err)
	require.ErrorIs(t, err, join.ErrInvalidInput)
}

func TestSchedulerJoinDrivesUntilResultAppears(t *testing.T) {
	var mu sync.Mutex
	ready := false
	drives := 0

	h, err := join.NewSchedulerJoin("task",
		func(deadline time.Time) bool {
			mu.Lock()
			drives++
			if drives >= 3 {
				ready = true
			}
			mu.Unlock()
			return true
		},
		func(name string) (any, error, bool) {
			mu.Lock()
			defer mu.Unlock()
			if name == "task" && ready {
				return 99, nil, true
			}
			return nil, nil, false
		},
	)
	require.NoError(t, err)

	v, err := h.Join()
	require.NoError(t, err)
	require.Equal(t, 99, v)
	require.GreaterOrEqual(t, drives, 3)
}

func TestSchedulerJoinTimeoutJoinTimesOut(t *testing.T) {
	h, err := join.NewSchedulerJoin("never",
		func(time.Time) bool { return true },
		func(string) (any, error, bool) { return nil, nil, false },
	)
	require.NoError(t, err)

	_, err = h.TimeoutJoin(10 * time.Millisecond)
	require.Error(t, err)
}

func TestSchedulerJoinPropagatesUnderlyingError(t *testing.T) {
	boom := errors.New("boom")
	h, err := join.NewSchedulerJoin("task",
		func(time.Time) bool { return true },
		func(string) (any, error, bool) { return nil, boom, true },
	)
	require.NoError(t, err)

	v, err := h.Join()
	require.Nil(t, v)
	require.ErrorIs(t, err, boom)
}

func TestNewPoolJoinRejectsEmptyName(t *testing.T) {
	_, err := join.NewPoolJoin("", func(string, time.Time) (any, error, bool) { return nil, nil, false })
	require.Error(t, err)
	require.ErrorIs(t, err, join.ErrInvalidInput)
}

func TestPoolJoinForwardsToWaitFunc(t *testing.T) {
	h, err := join.NewPoolJoin("t1", func(name string, deadline time.Time) (any, error, bool) {
		require.Equal(t, "t1", name)
		return "done", nil, true
	})
	require.NoError(t, err)

	v, err := h.Join()
	require.NoError(t, err)
	require.Equal(t, "done", v)
}

func TestPoolJoinNotFoundSurfacesTimeout(t *testing.T) {
	h, err := join.NewPoolJoin("missing", func(string, time.Time) (any, error, bool) { return nil, nil, false })
	require.NoError(t, err)

	_, err = h.Join()
	require.Error(t, err)
}

func TestEventLoopJoinForwardsAllThreeMethods(t *testing.T) {
	inner, err := join.NewPoolJoin("t2", func(string, time.Time) (any, error, bool) { return 7, nil, true })
	require.NoError(t, err)
	h := join.NewEventLoopJoin(inner)

	v, err := h.Join()
	require.NoError(t, err)
	require.Equal(t, 7, v)

	v, err = h.TimeoutJoin(time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	v, err = h.TimeoutAtJoin(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestIOHandleJoinBlocksUntilResolved(t *testing.T) {
	h, resolve := join.NewIOHandle()

	go func() {
		time.Sleep(10 * time.Millisecond)
		resolve(128, nil)
	}()

	v, err := h.Join()
	require.NoError(t, err)
	require.Equal(t, 128, v)
}

func TestIOHandleTimeoutJoinTimesOutBeforeResolve(t *testing.T) {
	h, resolve := join.NewIOHandle()
	defer resolve(0, nil)

	_, err := h.TimeoutJoin(5 * time.Millisecond)
	require.Error(t, err)
}

func TestIOHandleResolveWithErrorPropagates(t *testing.T) {
	h, resolve := join.NewIOHandle()
	boom := errors.New("read failed")
	resolve(0, boom)

	v, err := h.Join()
	require.Equal(t, 0, v)
	require.ErrorIs(t, err, boom)
}
