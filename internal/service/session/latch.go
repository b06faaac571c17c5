package session

import "sync/atomic"

// LatchState 闩锁状态，只能向前推进。
type LatchState int32

const (
	LatchIdle LatchState = iota
	LatchInProgress
	LatchDone
)

func (s LatchState) String() string {
	switch s {
	case LatchIdle:
		return "idle"
	case LatchInProgress:
		return "in_progress"
	case LatchDone:
		return "done"
	default:
		return "unknown"
	}
}

// Latch is a one-way guard: Idle -> InProgress -> Done. The zero value is
// Idle and ready to use.
type Latch struct {
	state atomic.Int32
}

// TryStart moves Idle to InProgress. Only one caller ever gets true.
func (l *Latch) TryStart() bool {
	return l.state.CompareAndSwap(int32(LatchIdle), int32(LatchInProgress))
}

// Finish marks the guarded sequence complete.
func (l *Latch) Finish() {
	l.state.Store(int32(LatchDone))
}

func (l *Latch) State() LatchState {
	return LatchState(l.state.Load())
}
