package worker

import "sync/atomic"

// SlotState is the lifecycle state of one worker slot.
type SlotState int32

const (
	StateIdle SlotState = iota
	StateLeasing
	StateExecuting
	StateReporting
	StateShuttingDown
)

func (s SlotState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeasing:
		return "leasing"
	case StateExecuting:
		return "executing"
	case StateReporting:
		return "reporting"
	case StateShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

// canMove reports whether a slot may go from one state to another.
// Any state may move to ShuttingDown.
func canMove(from, to SlotState) bool {
	if to == StateShuttingDown {
		return from != StateShuttingDown
	}
	switch from {
	case StateIdle:
		return to == StateLeasing
	case StateLeasing:
		return to == StateIdle || to == StateExecuting
	case StateExecuting:
		return to == StateReporting
	case StateReporting:
		return to == StateIdle
	}
	return false
}

type slot struct {
	id    int
	state atomic.Int32
}

func (s *slot) get() SlotState { return SlotState(s.state.Load()) }

// move performs the transition if it is allowed and reports whether it did.
func (s *slot) move(to SlotState) bool {
	from := s.get()
	if !canMove(from, to) {
		return false
	}
	s.state.Store(int32(to))
	return true
}
