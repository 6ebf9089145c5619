package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-monochromator/logger"
)

// State represents the stages of a controller session.
type State uint32

const (
	// DisconnectedState indicates that no TCP connection exists.
	DisconnectedState State = iota
	// ConnectingState indicates that a TCP connection is being established.
	ConnectingState
	// ConnectedState indicates that the session is ready for round trips.
	ConnectedState
	// FaultedState indicates that an I/O failure occurred. The device is in an unknown
	// state and an explicit reset is required.
	FaultedState
)

func (s State) IsDisconnected() bool { return s == DisconnectedState }

func (s State) IsConnected() bool { return s == ConnectedState }

func (s State) IsFaulted() bool { return s == FaultedState }

func (s State) String() string {
	switch s {
	case DisconnectedState:
		return "DISCONNECTED"
	case ConnectingState:
		return "CONNECTING"
	case ConnectedState:
		return "CONNECTED"
	case FaultedState:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// StateChangeHandler is invoked on every state change, after the new state is visible.
//
// Note: handlers are invoked in a blocking mode while the state manager's lock is held.
// Handlers must not call back into the state manager.
type StateChangeHandler func(prevState State, newState State)

// StateMgr manages the state of a session and notifies handlers of changes.
// All methods are safe for concurrent use.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a StateMgr in DisconnectedState.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	sm := &StateMgr{logger: l}
	sm.cond = sync.NewCond(&sm.mu)
	sm.state.Store(uint32(DisconnectedState))
	sm.handlers = append(sm.handlers, handlers...)

	return sm
}

// State returns the current state.
func (sm *StateMgr) State() State {
	return State(sm.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (sm *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.handlers = append(sm.handlers, handlers...)
}

// WaitState waits for the state to reach state or until ctx is done.
func (sm *StateMgr) WaitState(ctx context.Context, state State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		sm.cond.Broadcast()
	})
	defer stop()

	for sm.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		sm.cond.Wait()
	}

	return nil
}

// ToConnecting transitions DISCONNECTED to CONNECTING.
func (sm *StateMgr) ToConnecting() error {
	return sm.transition(ConnectingState, DisconnectedState)
}

// ToConnected transitions CONNECTING to CONNECTED.
func (sm *StateMgr) ToConnected() error {
	return sm.transition(ConnectedState, ConnectingState)
}

// ToDisconnected transitions CONNECTING or CONNECTED to DISCONNECTED.
// It is a no-op when already disconnected and fails with ErrInvalidTransition when faulted.
func (sm *StateMgr) ToDisconnected() error {
	return sm.transition(DisconnectedState, ConnectingState, ConnectedState)
}

// ToFaulted transitions CONNECTED to FAULTED. It reports whether the transition happened,
// so that only the first failure of a session is treated as the fault.
func (sm *StateMgr) ToFaulted() bool {
	return sm.transition(FaultedState, ConnectedState) == nil
}

// Reset transitions any state to DISCONNECTED.
func (sm *StateMgr) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev := sm.State()
	if prev == DisconnectedState {
		return
	}
	sm.setState(prev, DisconnectedState)
}

func (sm *StateMgr) transition(to State, from ...State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == to {
		if to == FaultedState {
			return ErrInvalidTransition
		}
		return nil
	}

	for _, s := range from {
		if cur == s {
			sm.setState(cur, to)
			return nil
		}
	}

	sm.logger.Debug("rejected session state transition", "cur_state", cur, "desired_state", to)

	return ErrInvalidTransition
}

// setState must be called with mu held.
func (sm *StateMgr) setState(prev, next State) {
	sm.state.Store(uint32(next))
	sm.cond.Broadcast()
	sm.logger.Debug("session state changed", "prev_state", prev, "new_state", next)

	for _, handler := range sm.handlers {
		if handler != nil {
			handler(prev, next)
		}
	}
}
