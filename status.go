package roomkit

import "sync"

// RoomState represents the externally-observed lifecycle state of a room.
type RoomState string

const (
	RoomStateInitialized RoomState = "initialized"
	RoomStateAttaching   RoomState = "attaching"
	RoomStateAttached    RoomState = "attached"
	RoomStateDetaching   RoomState = "detaching"
	RoomStateDetached    RoomState = "detached"
	RoomStateSuspended   RoomState = "suspended"

	// RoomStateFailed is terminal. Once a room fails it never transitions
	// again.
	RoomStateFailed RoomState = "failed"
)

// RoomStatusChange describes one room lifecycle transition.
type RoomStatusChange struct {
	// Current is the state the room moved to.
	Current RoomState

	// Previous is the state the room moved from.
	Previous RoomState

	// Error carries the structured error behind the transition, if any.
	Error *ErrorInfo
}

// RoomStatusListener receives room status changes. Listeners are invoked
// synchronously in registration order on the goroutine applying the
// transition, so they must not block.
type RoomStatusListener func(change RoomStatusChange)

// statusRegistration is one listener slot. Once-listeners are removed
// before they are invoked so they fire at most once even if the listener
// itself triggers another transition.
type statusRegistration struct {
	listener RoomStatusListener
	once     bool
}

// RoomStatus holds a room's current lifecycle state and error and fans out
// state-change notifications. Only the lifecycle manager mutates it; all
// other parties observe through the subscription API.
type RoomStatus struct {
	mu        sync.Mutex
	current   RoomState
	err       *ErrorInfo
	listeners []*statusRegistration
	logger    Logger
}

// NewRoomStatus creates a status holder in the initialized state.
// A nil logger disables logging.
func NewRoomStatus(logger Logger) *RoomStatus {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &RoomStatus{
		current: RoomStateInitialized,
		logger:  logger,
	}
}

// Current returns the room's current lifecycle state.
func (s *RoomStatus) Current() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Error returns the error associated with the current state, or nil.
func (s *RoomStatus) Error() *ErrorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnChange registers a listener for every subsequent status change. The
// returned function removes the listener; calling it more than once is a
// no-op.
func (s *RoomStatus) OnChange(listener RoomStatusListener) (off func()) {
	return s.register(listener, false)
}

// OnChangeOnce registers a listener that fires for the next status change
// only. The listener is removed before it runs, so a transition triggered
// from inside the listener cannot re-enter it.
func (s *RoomStatus) OnChangeOnce(listener RoomStatusListener) {
	s.register(listener, true)
}

// OffAll removes every registered listener.
func (s *RoomStatus) OffAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = nil
}

func (s *RoomStatus) register(listener RoomStatusListener, once bool) (off func()) {
	reg := &statusRegistration{listener: listener, once: once}
	s.mu.Lock()
	s.listeners = append(s.listeners, reg)
	s.mu.Unlock()

	return func() {
		s.remove(reg)
	}
}

func (s *RoomStatus) remove(reg *statusRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.listeners {
		if candidate == reg {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// setState applies a transition and notifies listeners synchronously in
// registration order, returning the emitted change. No-op transitions
// (same state, same error identity) are suppressed and return false. Only
// the lifecycle manager calls this.
func (s *RoomStatus) setState(state RoomState, err *ErrorInfo) (RoomStatusChange, bool) {
	s.mu.Lock()
	if s.current == state && s.err == err {
		s.mu.Unlock()
		return RoomStatusChange{}, false
	}
	change := RoomStatusChange{Current: state, Previous: s.current, Error: err}
	s.current = state
	s.err = err
	snapshot := make([]*statusRegistration, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	s.logger.Debug("room status changed", "from", change.Previous, "to", change.Current, "error", err)

	for _, reg := range snapshot {
		if reg.once {
			if !s.claimOnce(reg) {
				continue
			}
		} else if !s.isRegistered(reg) {
			continue
		}
		reg.listener(change)
	}
	return change, true
}

// claimOnce removes a once-listener, reporting whether this caller won the
// removal and should invoke it.
func (s *RoomStatus) claimOnce(reg *statusRegistration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.listeners {
		if candidate == reg {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (s *RoomStatus) isRegistered(reg *statusRegistration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, candidate := range s.listeners {
		if candidate == reg {
			return true
		}
	}
	return false
}
