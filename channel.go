package roomkit

import "context"

// ChannelState represents the lifecycle state of one transport channel.
// The transport owns these transitions; the manager only observes them.
type ChannelState string

const (
	ChannelStateInitialized ChannelState = "initialized"
	ChannelStateAttaching   ChannelState = "attaching"
	ChannelStateAttached    ChannelState = "attached"
	ChannelStateDetaching   ChannelState = "detaching"
	ChannelStateDetached    ChannelState = "detached"
	ChannelStateSuspended   ChannelState = "suspended"
	ChannelStateFailed      ChannelState = "failed"
)

// ChannelStateChange describes one transition observed on a channel.
// The transport also delivers same-state "update" notifications
// (Current == Previous), typically when the server re-attaches a channel
// that the client already considers attached.
type ChannelStateChange struct {
	// Current is the state the channel moved to.
	Current ChannelState

	// Previous is the state the channel moved from. Equal to Current for
	// update notifications.
	Previous ChannelState

	// Resumed reports whether the server resumed the message stream across
	// the transition. Only meaningful when Current is attached; false
	// indicates messages may have been missed.
	Resumed bool

	// Reason is the transport error that caused the transition, if any.
	Reason *ErrorInfo
}

// IsUpdate reports whether the change is a same-state re-notification
// rather than a transition.
func (c ChannelStateChange) IsUpdate() bool {
	return c.Current == c.Previous
}

// Channel is the abstract pub/sub transport primitive the manager drives.
// Implementations are provided by the underlying realtime transport; the
// memchannel package ships an in-process implementation for tests and
// simulations.
type Channel interface {
	// State returns the channel's current lifecycle state.
	State() ChannelState

	// ErrorReason returns the last transport error observed on the
	// channel, or nil.
	ErrorReason() *ErrorInfo

	// Attach requests attachment and blocks until the channel reaches the
	// attached state or settles in a terminal non-attached state, in which
	// case an error is returned.
	Attach(ctx context.Context) error

	// Detach requests detachment and blocks until the channel reaches the
	// detached state or settles in a terminal non-detached state, in which
	// case an error is returned.
	Detach(ctx context.Context) error

	// OnStateChange registers a listener for every state change, including
	// same-state update notifications. The returned function removes the
	// listener.
	OnStateChange(listener func(ChannelStateChange)) (off func())
}
