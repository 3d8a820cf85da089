package roomkit

// handleChannelEvent classifies one contributor state-change event and
// applies its room-level consequence. Precedence:
//
//  1. Terminal room or active orchestration: bookkeeping only (stale timer
//     clearing; discontinuity latching during an orchestration only); room
//     state is never driven.
//  2. Channel failed: the room fails, permanently.
//  3. Channel attached while a transient timer is pending: the flap is
//     absorbed.
//  4. Channel suspended: non-transient detach, recovery begins.
//  5. Channel detached with no timer pending: a transient timer is armed.
//  6. Anything else: bookkeeping only.
func (m *RoomLifecycleManager) handleChannelEvent(contributor Contributor, change ChannelStateChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released() {
		return
	}

	m.logger.Debug("contributor channel state changed",
		"room", m.roomID,
		"from", change.Previous,
		"to", change.Current,
		"resumed", change.Resumed,
		"reason", change.Reason)

	// A failed room never transitions again; keep the timer set tidy but
	// otherwise observe silently.
	if m.status.Current() == RoomStateFailed {
		if change.Current == ChannelStateAttached {
			m.transient.disarm(contributor)
		}
		return
	}

	if m.ignoreEvents {
		if change.Current == ChannelStateAttached {
			m.transient.disarm(contributor)
		}
		m.recordDiscontinuityLocked(contributor, change)
		return
	}

	switch {
	case change.Current == ChannelStateFailed:
		m.channelFailedLocked(contributor, change)

	case change.Current == ChannelStateAttached && m.transient.has(contributor):
		m.transient.disarm(contributor)
		if m.metrics != nil {
			m.metrics.observeTransientAbsorbed(m.roomID)
		}
		m.logger.Debug("transient detach absorbed", "room", m.roomID)
		if !change.Resumed {
			m.recordDiscontinuityLocked(contributor, change)
		}

	case change.Current == ChannelStateSuspended:
		m.beginRecoveryLocked(contributor, RoomStateSuspended, change.Reason)

	case change.Current == ChannelStateDetached && !m.transient.has(contributor):
		m.transient.arm(contributor, m.transientTimeout, func() {
			m.transientExpired(contributor)
		})

	default:
		m.recordDiscontinuityLocked(contributor, change)
	}
}

// channelFailedLocked handles a channel entering the failed state: the room
// fails with the channel's error tagged with the contributor's attachment
// code, every other contributor is detached best-effort, and no further
// room transitions ever occur.
func (m *RoomLifecycleManager) channelFailedLocked(contributor Contributor, change ChannelStateChange) {
	m.transient.clearAll()
	m.ignoreEvents = true

	reason := change.Reason
	if reason == nil {
		reason = contributor.Channel().ErrorReason()
	}
	surfaced := taggedWithCode(reason, contributor.AttachmentErrorCode())

	m.logger.Error("contributor channel failed, failing room", "room", m.roomID, "error", surfaced)
	m.publishLocked(RoomStateFailed, surfaced)

	go m.detachAllExcept(contributor)
}

// beginRecoveryLocked handles a non-transient detachment: the room takes on
// the offending channel's state and a recovery cycle starts, unless one is
// already running.
func (m *RoomLifecycleManager) beginRecoveryLocked(contributor Contributor, state RoomState, reason *ErrorInfo) {
	m.ignoreEvents = true

	if reason == nil {
		reason = contributor.Channel().ErrorReason()
	}
	surfaced := taggedWithCode(reason, contributor.AttachmentErrorCode())

	m.transient.clearAll()
	m.logger.Warn("contributor channel lost, entering recovery", "room", m.roomID, "state", state, "error", surfaced)
	m.publishLocked(state, surfaced)

	if !m.recovering {
		m.recovering = true
		go m.recoveryLoop(contributor)
	}
}

// transientExpired fires when a detached channel failed to re-attach within
// the grace period.
func (m *RoomLifecycleManager) transientExpired(contributor Contributor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released() || m.ignoreEvents || m.status.Current() == RoomStateFailed {
		return
	}

	switch contributor.Channel().State() {
	case ChannelStateDetached:
		m.beginRecoveryLocked(contributor, RoomStateDetached, contributor.Channel().ErrorReason())
	case ChannelStateSuspended:
		m.beginRecoveryLocked(contributor, RoomStateSuspended, contributor.Channel().ErrorReason())
	default:
		// The channel recovered between the timer firing and this check.
	}
}

// recordDiscontinuityLocked latches a discontinuity for the contributor
// when the event signals one. Contributors that have never completed an
// attach are skipped: a lost resume on a channel that was never live
// carries no information.
func (m *RoomLifecycleManager) recordDiscontinuityLocked(contributor Contributor, change ChannelStateChange) {
	if !m.firstAttachComplete[contributor] {
		return
	}

	reason, ok := discontinuitySignal(change)
	if !ok {
		return
	}

	if !m.discontinuity.hasPending(contributor) && m.metrics != nil {
		m.metrics.observeDiscontinuity(m.roomID, "recorded")
	}
	m.discontinuity.record(contributor, reason)
}

// discontinuitySignal reports whether the event indicates a message-stream
// gap: an attached notification whose resume was not honored, or an update
// carrying a reason.
func discontinuitySignal(change ChannelStateChange) (*ErrorInfo, bool) {
	switch {
	case change.Current == ChannelStateAttached && !change.Resumed:
	case change.IsUpdate() && change.Reason != nil:
	default:
		return nil, false
	}

	if change.Reason != nil {
		return change.Reason, true
	}
	return NewErrorInfo(CodeRoomLifecycleError, "discontinuity detected on channel"), true
}
