package wsqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/open-coroutine-go/wsqueue"
	"github.com/stretchr/testify/require"
)

func TestWorkerPushPopLIFOOrder(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	w := wsqueue.NewWorker[int](4, wsqueue.LIFO, inj, nil)

	require.NoError(t, w.Push(context.Background(), 1))
	require.NoError(t, w.Push(context.Background(), 2))
	require.NoError(t, w.Push(context.Background(), 3))

	v, ok := w.Pop()
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestWorkerPushPopFIFOOrder(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	w := wsqueue.NewWorker[int](4, wsqueue.FIFO, inj, nil)

	require.NoError(t, w.Push(context.Background(), 1))
	require.NoError(t, w.Push(context.Background(), 2))
	require.NoError(t, w.Push(context.Background(), 3))

	v, ok := w.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestWorkerOverflowsToInjectorAtCapacity(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	w := wsqueue.NewWorker[int](2, wsqueue.FIFO, inj, nil)

	require.NoError(t, w.Push(context.Background(), 1))
	require.NoError(t, w.Push(context.Background(), 2))
	require.NoError(t, w.Push(context.Background(), 3)) // overflow

	require.Equal(t, 2, w.Len())
	require.Eventually(t, func() bool { return inj.Len() == 1 }, time.Second, time.Millisecond)
}

func TestWorkerNextStealsBatchFromInjectorWhenLocalEmpty(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	w := wsqueue.NewWorker[int](4, wsqueue.FIFO, inj, nil)

	require.NoError(t, inj.Push(context.Background(), 10))
	require.NoError(t, inj.Push(context.Background(), 20))

	v, ok := w.Next()
	require.True(t, ok)
	require.Contains(t, []int{10, 20}, v)
}

func TestWorkerNextStealsHalfFromSibling(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	victim := wsqueue.NewWorker[int](8, wsqueue.FIFO, inj, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, victim.Push(context.Background(), i))
	}

	var thief *wsqueue.Worker[int]
	siblings := func() []*wsqueue.Worker[int] { return []*wsqueue.Worker[int]{victim, thief} }
	thief = wsqueue.NewWorker[int](8, wsqueue.FIFO, inj, siblings)

	v, ok := thief.Next()
	require.True(t, ok)
	require.GreaterOrEqual(t, v, 0)
	// half of 4 items (2) were moved: one returned directly, one buffered.
	require.Equal(t, 1, thief.Len())
	require.Equal(t, 2, victim.Len())
}

func TestWorkerNextReturnsFalseWhenEverythingEmpty(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	w := wsqueue.NewWorker[int](4, wsqueue.FIFO, inj, func() []*wsqueue.Worker[int] { return nil })
	_, ok := w.Next()
	require.False(t, ok)
}

func TestInjectorStealBatchRespectsRequestedSize(t *testing.T) {
	inj := wsqueue.NewInjector[int](16)
	for i := 0; i < 5; i++ {
		require.NoError(t, inj.Push(context.Background(), i))
	}
	batch, err := inj.StealBatch(3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, 2, inj.Len())
}

func TestInjectorStealBatchOnEmptyReturnsErrEmpty(t *testing.T) {
	inj := wsqueue.NewInjector[int](8)
	_, err := inj.StealBatch(3)
	require.ErrorIs(t, err, wsqueue.ErrEmpty)
}
