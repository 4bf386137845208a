package queue

import (
	"context"
	"time"
)

// idleWait is the adaptive poll interval between empty lease attempts.
// While jobs keep arriving the wait stays at the floor; every empty
// poll doubles it toward the ceiling, and the next leased job snaps it
// back down.
type idleWait struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

func newIdleWait(floor, ceiling time.Duration) *idleWait {
	if floor <= 0 {
		floor = 500 * time.Millisecond
	}
	if ceiling < floor {
		ceiling = 30 * time.Second
		if ceiling < floor {
			ceiling = floor
		}
	}
	return &idleWait{floor: floor, ceiling: ceiling, current: floor}
}

// Reset snaps the interval back to the floor after productive work
func (w *idleWait) Reset() {
	w.current = w.floor
}

// Sleep waits out the current interval and doubles it for next time.
// Returns false when the context ends first.
func (w *idleWait) Sleep(ctx context.Context) bool {
	wait := w.current
	w.current *= 2
	if w.current > w.ceiling {
		w.current = w.ceiling
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
