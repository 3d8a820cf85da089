package roomkit

import (
	"context"
	"sync"
)

// mockChannel is a scriptable channel for lifecycle tests. Events are
// emitted synchronously, mirroring the ordering a real transport provides.
type mockChannel struct {
	mu           sync.Mutex
	state        ChannelState
	reason       *ErrorInfo
	listeners    map[int]func(ChannelStateChange)
	order        []int
	nextID       int
	attachCalls  int
	detachCalls  int
	attachErr    error
	attachSettle ChannelState
	detachErr    error
	detachSettle ChannelState
	everAttached bool
	resumeNext   *bool
	attachGate   chan struct{}
	detachGate   chan struct{}
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		state:     ChannelStateInitialized,
		listeners: make(map[int]func(ChannelStateChange)),
	}
}

func (c *mockChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mockChannel) ErrorReason() *ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *mockChannel) OnStateChange(listener func(ChannelStateChange)) (off func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.order = append(c.order, id)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *mockChannel) Attach(ctx context.Context) error {
	c.mu.Lock()
	c.attachCalls++
	gate := c.attachGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if c.attachErr != nil {
		err := c.attachErr
		c.attachErr = nil
		c.reason = toErrorInfo(err)
		c.applyLocked(c.attachSettle, false, c.reason)
		return err
	}
	if c.state == ChannelStateAttached {
		c.mu.Unlock()
		return nil
	}
	// Like a real transport: the first attach has no stream to resume,
	// later attaches resume successfully unless scripted otherwise.
	resumed := c.everAttached
	if c.resumeNext != nil {
		resumed = *c.resumeNext
		c.resumeNext = nil
	}
	c.everAttached = true
	c.reason = nil
	c.applyLocked(ChannelStateAttached, resumed, nil)
	return nil
}

func (c *mockChannel) Detach(ctx context.Context) error {
	c.mu.Lock()
	c.detachCalls++
	gate := c.detachGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if c.detachErr != nil {
		err := c.detachErr
		c.detachErr = nil
		c.reason = toErrorInfo(err)
		c.applyLocked(c.detachSettle, false, c.reason)
		return err
	}
	switch c.state {
	case ChannelStateDetached, ChannelStateInitialized:
		c.mu.Unlock()
		return nil
	}
	c.applyLocked(ChannelStateDetached, false, nil)
	return nil
}

// failNextAttach scripts the next Attach to fail, leaving the channel in
// settle.
func (c *mockChannel) failNextAttach(err error, settle ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachErr = err
	c.attachSettle = settle
}

// failNextDetach scripts the next Detach to fail, leaving the channel in
// settle.
func (c *mockChannel) failNextDetach(err error, settle ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachErr = err
	c.detachSettle = settle
}

// gateAttach makes Attach block until the returned function is called.
func (c *mockChannel) gateAttach() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.attachGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.attachGate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// gateDetach makes Detach block until the returned function is called.
func (c *mockChannel) gateDetach() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.detachGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.detachGate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// setResumeOnNextAttach overrides the resumed flag of the next successful
// attach.
func (c *mockChannel) setResumeOnNextAttach(resumed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeNext = &resumed
}

// transition injects a server-initiated state change.
func (c *mockChannel) transition(to ChannelState, resumed bool, reason *ErrorInfo) {
	c.mu.Lock()
	if reason != nil {
		c.reason = reason
	}
	if to == ChannelStateAttached {
		c.everAttached = true
	}
	c.applyLocked(to, resumed, reason)
}

// emitUpdate injects a same-state update notification.
func (c *mockChannel) emitUpdate(resumed bool, reason *ErrorInfo) {
	c.mu.Lock()
	change := ChannelStateChange{Current: c.state, Previous: c.state, Resumed: resumed, Reason: reason}
	c.emitLocked(change)
	c.mu.Unlock()
}

func (c *mockChannel) counts() (attaches, detaches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachCalls, c.detachCalls
}

// applyLocked sets the state and emits the change, releasing c.mu.
func (c *mockChannel) applyLocked(to ChannelState, resumed bool, reason *ErrorInfo) {
	change := ChannelStateChange{Current: to, Previous: c.state, Resumed: resumed, Reason: reason}
	c.state = to
	c.emitLocked(change)
	c.mu.Unlock()
}

// emitLocked fans the change out with c.mu released around each listener so
// listeners can call back into the channel.
func (c *mockChannel) emitLocked(change ChannelStateChange) {
	ids := make([]int, len(c.order))
	copy(ids, c.order)
	c.mu.Unlock()
	for _, id := range ids {
		c.mu.Lock()
		listener, ok := c.listeners[id]
		c.mu.Unlock()
		if ok {
			listener(change)
		}
	}
	c.mu.Lock()
}

func toErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if info, ok := err.(*ErrorInfo); ok {
		return info
	}
	return &ErrorInfo{Code: CodeRoomLifecycleError, StatusCode: DefaultErrorStatusCode, Message: err.Error(), Cause: err}
}

// mockContributor wraps a mockChannel with feature codes and records
// delivered discontinuities.
type mockContributor struct {
	channel        *mockChannel
	attachmentCode int
	detachmentCode int

	mu              sync.Mutex
	discontinuities []*ErrorInfo
}

func newMockContributor(attachmentCode, detachmentCode int) *mockContributor {
	return &mockContributor{
		channel:        newMockChannel(),
		attachmentCode: attachmentCode,
		detachmentCode: detachmentCode,
	}
}

func (c *mockContributor) Channel() Channel         { return c.channel }
func (c *mockContributor) AttachmentErrorCode() int { return c.attachmentCode }
func (c *mockContributor) DetachmentErrorCode() int { return c.detachmentCode }

func (c *mockContributor) DiscontinuityDetected(reason *ErrorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discontinuities = append(c.discontinuities, reason)
}

func (c *mockContributor) deliveredDiscontinuities() []*ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ErrorInfo, len(c.discontinuities))
	copy(out, c.discontinuities)
	return out
}

// stateRecorder collects room status changes in order.
type stateRecorder struct {
	mu      sync.Mutex
	changes []RoomStatusChange
}

func recordStates(status *RoomStatus) *stateRecorder {
	rec := &stateRecorder{}
	status.OnChange(func(change RoomStatusChange) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.changes = append(rec.changes, change)
	})
	return rec
}

func (r *stateRecorder) states() []RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoomState, 0, len(r.changes))
	for _, change := range r.changes {
		out = append(out, change.Current)
	}
	return out
}

func (r *stateRecorder) last() (RoomStatusChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return RoomStatusChange{}, false
	}
	return r.changes[len(r.changes)-1], true
}

func (r *stateRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
}

// newTestRoom builds a manager over n mock contributors. The manager keeps
// its default transient timeout unless opts override it.
func newTestRoom(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, n int, opts ...ManagerOption) (*RoomLifecycleManager, *RoomStatus, []*mockContributor) {
	t.Helper()
	status := NewRoomStatus(NoopLogger{})
	mocks := make([]*mockContributor, n)
	contributors := make([]Contributor, n)
	for i := range mocks {
		mocks[i] = newMockContributor(102001+i, 102050+i)
		contributors[i] = mocks[i]
	}
	manager, err := NewRoomLifecycleManager(status, contributors, NoopLogger{}, opts...)
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	return manager, status, mocks
}
