package monitor

import (
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
)

// NewCreatorListener returns a listener, grounded on spec.md §4.H ("its
// creator-listener submits (now + slice, self) to the monitor; on
// suspend/complete/error, the entry is removed"), that arms co's
// preemption deadline on every transition into Running and disarms it
// otherwise.
func NewCreatorListener(m *Monitor, slice time.Duration) coroutine.Listener {
	return &creatorListener{m: m, slice: slice}
}

type creatorListener struct {
	coroutine.BaseListener
	m     *Monitor
	slice time.Duration
}

func (l *creatorListener) OnStateChanged(co *coroutine.Coroutine, old, next coroutine.State) {
	if next.Kind == coroutine.Running {
		l.m.Submit(co, l.slice)
		return
	}
	l.m.Remove(co)
}
