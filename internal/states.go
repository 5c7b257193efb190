package internal

import (
	"sync"
	"time"
)

const (
	WorkerStateRunning  = "RUNNING"
	WorkerStateStarting = "STARTING"
	WorkerStateStopped  = "STOPPED"
	WorkerStateNotFound = "NOT_FOUND"
)

type WorkerState struct {
	ID           uint64
	CurrentState string
	TargetState  string
}

// StateTracker keeps track of current and target states of long running workers (camera job loops, timelapse processors).
// The owner of a worker sets the target state, the worker itself reports its current state.
type StateTracker struct {
	states       []WorkerState
	mux          *sync.RWMutex
	pollInterval time.Duration
}

func NewStateTracker() *StateTracker {
	return &StateTracker{mux: &sync.RWMutex{}, pollInterval: 100 * time.Millisecond}
}

func (st *StateTracker) SetTargetState(id uint64, state string) {
	st.mux.Lock()
	defer st.mux.Unlock()
	ws := st.getState(id)
	if ws.CurrentState == WorkerStateNotFound {
		st.states = append(st.states, WorkerState{ID: id, TargetState: state})
	} else {
		ws.TargetState = state
	}
}

func (st *StateTracker) SetCurrentState(id uint64, state string) {
	st.mux.Lock()
	defer st.mux.Unlock()
	ws := st.getState(id)
	if ws.CurrentState == WorkerStateNotFound {
		st.states = append(st.states, WorkerState{ID: id, CurrentState: state})
	} else {
		ws.CurrentState = state
	}
}

// getState returns a pointer into the tracked states, callers must hold the lock.
func (st *StateTracker) getState(id uint64) *WorkerState {
	for i := range st.states {
		if st.states[i].ID == id {
			return &st.states[i]
		}
	}
	return &WorkerState{ID: id, CurrentState: WorkerStateNotFound, TargetState: WorkerStateNotFound}
}

// GetState returns a copy of the worker state.
func (st *StateTracker) GetState(id uint64) WorkerState {
	st.mux.RLock()
	defer st.mux.RUnlock()
	return *st.getState(id)
}

// IsStopRequested reports whether the owner asked the worker to stop.
func (st *StateTracker) IsStopRequested(id uint64) bool {
	return st.GetState(id).TargetState == WorkerStateStopped
}

// WaitForTargetState blocks until the worker reaches its target state or the wait times out.
func (st *StateTracker) WaitForTargetState(id uint64, timeout time.Duration) bool {
	endTime := time.Now().Add(timeout)
	for {
		ws := st.GetState(id)
		if ws.CurrentState == ws.TargetState {
			return true
		}
		if time.Now().After(endTime) {
			return false
		}
		time.Sleep(st.pollInterval)
	}
}
