package roomkit

// recoveryLoop restores a room after a non-transient detachment. It detaches
// the healthy contributors, waits for the offending channel to settle, and
// re-runs the attach orchestration; if the re-attach fails on a different
// contributor the cycle repeats with that one. The loop ends when the room
// reaches attached or failed, or the manager is released.
//
// The loop never holds the operation slot across iterations, so a
// user-initiated detach can interleave by serializing behind the recovery's
// attach.
func (m *RoomLifecycleManager) recoveryLoop(offending Contributor) {
	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	for {
		m.detachAllExcept(offending)

		settled, ok := m.awaitContributorSettled(offending)
		if !ok {
			return
		}
		if settled == ChannelStateFailed {
			m.mu.Lock()
			if m.status.Current() != RoomStateFailed {
				reason := taggedWithCode(offending.Channel().ErrorReason(), offending.AttachmentErrorCode())
				m.logger.Error("channel failed during recovery, failing room", "room", m.roomID, "error", reason)
				m.ignoreEvents = true
				m.publishLocked(RoomStateFailed, reason)
			}
			m.mu.Unlock()
			return
		}

		m.logger.Debug("offending channel re-attached, re-running room attach", "room", m.roomID)
		err := m.ops.runExclusive(m.releaseCtx, func() error {
			return m.doAttach(m.releaseCtx)
		})
		if err == nil {
			return
		}

		m.mu.Lock()
		if m.released() || m.status.Current() == RoomStateFailed {
			m.mu.Unlock()
			return
		}
		next := m.lastAttachErrorContributor
		m.ignoreEvents = true
		m.mu.Unlock()

		if next == nil {
			m.logger.Error("recovery attach failed with no offending contributor, giving up", "room", m.roomID, "error", err)
			return
		}
		offending = next
	}
}

// awaitContributorSettled blocks until the contributor's channel reaches
// attached or failed. Returns false when the manager is released first.
// Transitions on channels the recovery does not own are noise at this
// point; only the offending channel decides how recovery proceeds.
func (m *RoomLifecycleManager) awaitContributorSettled(contributor Contributor) (ChannelState, bool) {
	settled := make(chan ChannelState, 1)
	off := contributor.Channel().OnStateChange(func(change ChannelStateChange) {
		switch change.Current {
		case ChannelStateAttached, ChannelStateFailed:
			select {
			case settled <- change.Current:
			default:
			}
		}
	})
	defer off()

	switch state := contributor.Channel().State(); state {
	case ChannelStateAttached, ChannelStateFailed:
		return state, true
	}

	select {
	case state := <-settled:
		return state, true
	case <-m.releaseCtx.Done():
		return "", false
	}
}

// detachAllExcept detaches every contributor other than the given one,
// best-effort. The room is already non-attached when this runs, so errors
// are logged and swallowed.
func (m *RoomLifecycleManager) detachAllExcept(offending Contributor) {
	for _, contributor := range m.contributors {
		if contributor == offending {
			continue
		}
		switch contributor.Channel().State() {
		case ChannelStateDetached, ChannelStateInitialized, ChannelStateFailed:
			continue
		}
		if err := contributor.Channel().Detach(m.releaseCtx); err != nil {
			m.logger.Error("best-effort detach failed", "room", m.roomID, "error", err)
		}
	}
}
