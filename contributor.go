package roomkit

// Contributor is one feature sub-component whose lifecycle is tied to a
// single transport channel. The manager treats all contributors uniformly:
// it drives the channel, tags room-level failures with the contributor's
// error codes, and notifies the feature of message-stream discontinuities.
// It never inspects feature semantics.
type Contributor interface {
	// Channel returns the transport channel backing this feature.
	Channel() Channel

	// AttachmentErrorCode is the feature-specific code used when the room
	// as a whole fails to attach because of this contributor.
	AttachmentErrorCode() int

	// DetachmentErrorCode is the feature-specific code used when the room
	// as a whole fails to detach because of this contributor.
	DetachmentErrorCode() int

	// DiscontinuityDetected notifies the feature that the message stream
	// backing it has a gap. Called at most once per attach cycle, with the
	// first error that caused the gap.
	DiscontinuityDetected(reason *ErrorInfo)
}

// SimpleContributor is a ready-made Contributor binding a channel to a pair
// of feature error codes and an optional discontinuity callback. SDK
// features that need no extra state can use it directly.
type SimpleContributor struct {
	channel         Channel
	attachmentCode  int
	detachmentCode  int
	onDiscontinuity func(reason *ErrorInfo)
}

// NewSimpleContributor creates a contributor for the given channel and
// feature error codes. The onDiscontinuity callback may be nil.
func NewSimpleContributor(channel Channel, attachmentCode, detachmentCode int, onDiscontinuity func(reason *ErrorInfo)) *SimpleContributor {
	return &SimpleContributor{
		channel:         channel,
		attachmentCode:  attachmentCode,
		detachmentCode:  detachmentCode,
		onDiscontinuity: onDiscontinuity,
	}
}

// Channel returns the transport channel backing this contributor.
func (c *SimpleContributor) Channel() Channel {
	return c.channel
}

// AttachmentErrorCode returns the feature's attachment failure code.
func (c *SimpleContributor) AttachmentErrorCode() int {
	return c.attachmentCode
}

// DetachmentErrorCode returns the feature's detachment failure code.
func (c *SimpleContributor) DetachmentErrorCode() int {
	return c.detachmentCode
}

// DiscontinuityDetected forwards the gap notification to the callback.
func (c *SimpleContributor) DiscontinuityDetected(reason *ErrorInfo) {
	if c.onDiscontinuity != nil {
		c.onDiscontinuity(reason)
	}
}
