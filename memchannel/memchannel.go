// Package memchannel provides an in-process implementation of the roomkit
// transport channel contract. It is the reference transport for tests and
// simulations: attach/detach outcomes can be scripted, and server-initiated
// transitions (suspensions, flaps, resume failures) can be injected at any
// time.
package memchannel

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/roomkit"
)

// outcome scripts the result of the next attach or detach call.
type outcome struct {
	err         error
	settleState roomkit.ChannelState
}

// Channel is an in-memory channel with a real attach/detach state machine.
// All state transitions are emitted to registered listeners synchronously,
// mirroring how a transport delivers events in order.
type Channel struct {
	name string

	mu           sync.Mutex
	state        roomkit.ChannelState
	errReason    *roomkit.ErrorInfo
	everAttached bool
	nextAttach   *outcome
	nextDetach   *outcome
	resumeNext   *bool
	listeners    map[int]func(roomkit.ChannelStateChange)
	order        []int
	nextID       int
}

// New creates a channel in the initialized state.
func New(name string) *Channel {
	return &Channel{
		name:      name,
		state:     roomkit.ChannelStateInitialized,
		listeners: make(map[int]func(roomkit.ChannelStateChange)),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// State returns the channel's current state.
func (c *Channel) State() roomkit.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ErrorReason returns the last error observed on the channel, or nil.
func (c *Channel) ErrorReason() *roomkit.ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errReason
}

// OnStateChange registers a listener for every state change, including
// same-state updates. The returned function removes the listener.
func (c *Channel) OnStateChange(listener func(roomkit.ChannelStateChange)) (off func()) {
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

// Attach moves the channel to attached, or to the scripted failure state.
// Attaching an attached channel is a no-op.
func (c *Channel) Attach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == roomkit.ChannelStateAttached {
		c.mu.Unlock()
		return nil
	}

	if scripted := c.nextAttach; scripted != nil {
		c.nextAttach = nil
		c.errReason = asErrorInfo(scripted.err)
		c.transitionLocked(scripted.settleState, false, c.errReason)
		c.mu.Unlock()
		return scripted.err
	}

	c.transitionLocked(roomkit.ChannelStateAttaching, false, nil)
	resumed := c.everAttached
	if c.resumeNext != nil {
		resumed = *c.resumeNext
		c.resumeNext = nil
	}
	c.everAttached = true
	c.errReason = nil
	c.transitionLocked(roomkit.ChannelStateAttached, resumed, nil)
	c.mu.Unlock()
	return nil
}

// Detach moves the channel to detached, or to the scripted failure state.
// Detaching a detached or initialized channel is a no-op.
func (c *Channel) Detach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case roomkit.ChannelStateDetached, roomkit.ChannelStateInitialized:
		c.mu.Unlock()
		return nil
	}

	if scripted := c.nextDetach; scripted != nil {
		c.nextDetach = nil
		c.errReason = asErrorInfo(scripted.err)
		c.transitionLocked(scripted.settleState, false, c.errReason)
		c.mu.Unlock()
		return scripted.err
	}

	c.transitionLocked(roomkit.ChannelStateDetaching, false, nil)
	c.transitionLocked(roomkit.ChannelStateDetached, false, nil)
	c.mu.Unlock()
	return nil
}

// FailNextAttach scripts the next Attach call to return err and leave the
// channel in settleState.
func (c *Channel) FailNextAttach(err error, settleState roomkit.ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextAttach = &outcome{err: err, settleState: settleState}
}

// FailNextDetach scripts the next Detach call to return err and leave the
// channel in settleState.
func (c *Channel) FailNextDetach(err error, settleState roomkit.ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextDetach = &outcome{err: err, settleState: settleState}
}

// SetResumeOnNextAttach overrides the resumed flag reported by the next
// successful attach. Without an override the first attach reports false and
// subsequent attaches report true.
func (c *Channel) SetResumeOnNextAttach(resumed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeNext = &resumed
}

// ServerTransition injects a server-initiated transition, e.g. a suspension
// or an out-of-band re-attach.
func (c *Channel) ServerTransition(to roomkit.ChannelState, resumed bool, reason *roomkit.ErrorInfo) {
	c.mu.Lock()
	if reason != nil {
		c.errReason = reason
	}
	if to == roomkit.ChannelStateAttached {
		c.everAttached = true
	}
	c.transitionLocked(to, resumed, reason)
	c.mu.Unlock()
}

// EmitUpdate injects a same-state update notification, as a server emits
// when it re-attaches a channel the client already considers attached.
func (c *Channel) EmitUpdate(resumed bool, reason *roomkit.ErrorInfo) {
	c.mu.Lock()
	if reason != nil {
		c.errReason = reason
	}
	change := roomkit.ChannelStateChange{
		Current:  c.state,
		Previous: c.state,
		Resumed:  resumed,
		Reason:   reason,
	}
	c.emitLocked(change)
	c.mu.Unlock()
}

// transitionLocked applies a state change and notifies listeners. c.mu must
// be held; it is released around listener invocation so listeners can call
// back into the channel.
func (c *Channel) transitionLocked(to roomkit.ChannelState, resumed bool, reason *roomkit.ErrorInfo) {
	change := roomkit.ChannelStateChange{
		Current:  to,
		Previous: c.state,
		Resumed:  resumed,
		Reason:   reason,
	}
	c.state = to
	c.emitLocked(change)
}

func (c *Channel) emitLocked(change roomkit.ChannelStateChange) {
	ids := make([]int, len(c.order))
	copy(ids, c.order)
	c.mu.Unlock()
	defer c.mu.Lock()
	for _, id := range ids {
		c.mu.Lock()
		listener, ok := c.listeners[id]
		c.mu.Unlock()
		if ok {
			listener(change)
		}
	}
}

func asErrorInfo(err error) *roomkit.ErrorInfo {
	if err == nil {
		return nil
	}
	if info, ok := err.(*roomkit.ErrorInfo); ok {
		return info
	}
	return &roomkit.ErrorInfo{
		Code:       roomkit.CodeRoomLifecycleError,
		StatusCode: roomkit.DefaultErrorStatusCode,
		Message:    err.Error(),
		Cause:      err,
	}
}
