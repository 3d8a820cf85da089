package roomkit

import (
	"context"
	"fmt"
)

// doAttach runs the attach orchestration. The caller holds the operation
// slot. Contributor events observed while the orchestration runs are
// latched out of room-state decisions; the room moves through coarse phases
// only.
func (m *RoomLifecycleManager) doAttach(ctx context.Context) error {
	m.mu.Lock()
	if m.released() {
		m.mu.Unlock()
		return ErrRoomReleased
	}
	switch m.status.Current() {
	case RoomStateAttached:
		// A previous orchestration won the race while we queued.
		m.mu.Unlock()
		return nil
	case RoomStateFailed:
		m.mu.Unlock()
		return roomInFailedStateError()
	}
	m.ignoreEvents = true
	m.publishLocked(RoomStateAttaching, nil)
	m.mu.Unlock()

	for _, contributor := range m.contributors {
		err := contributor.Channel().Attach(ctx)
		if err == nil {
			m.mu.Lock()
			m.firstAttachComplete[contributor] = true
			m.mu.Unlock()
			continue
		}
		return m.attachFailed(ctx, contributor, err)
	}

	m.mu.Lock()
	m.lastAttachErrorContributor = nil
	m.publishLocked(RoomStateAttached, nil)
	m.ignoreEvents = false
	m.mu.Unlock()

	m.flushDiscontinuities()
	return nil
}

// attachFailed rolls back a partially-attached room. The tentative room
// state follows the offending channel's post-failure state; every other
// contributor that made progress is detached best-effort, and a rollback
// failure promotes the room to failed without overwriting the surfaced
// error.
func (m *RoomLifecycleManager) attachFailed(ctx context.Context, offending Contributor, attachErr error) error {
	m.mu.Lock()
	m.lastAttachErrorContributor = offending
	m.mu.Unlock()

	surfaced := taggedWithCode(
		errorInfoFrom(attachErr, offending.AttachmentErrorCode(), "failed to attach feature channel"),
		offending.AttachmentErrorCode(),
	)

	var result RoomState
	switch state := offending.Channel().State(); state {
	case ChannelStateSuspended:
		// Force the channel down so recovery starts from a clean slate.
		if detachErr := offending.Channel().Detach(ctx); detachErr != nil {
			m.logger.Error("failed to detach suspended channel during rollback", "room", m.roomID, "error", detachErr)
		}
		result = RoomStateDetached
	case ChannelStateDetached:
		result = RoomStateDetached
	case ChannelStateFailed:
		result = RoomStateFailed
	default:
		m.logger.Error("channel settled in unexpected state after attach failure", "room", m.roomID, "state", state)
		m.mu.Lock()
		m.ignoreEvents = false
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnexpectedChannelState, state)
	}

	for _, other := range m.contributors {
		if other == offending {
			continue
		}
		switch other.Channel().State() {
		case ChannelStateDetached, ChannelStateInitialized, ChannelStateSuspended, ChannelStateFailed:
			continue
		}
		if detachErr := other.Channel().Detach(ctx); detachErr != nil {
			m.logger.Error("rollback detach failed, failing room", "room", m.roomID, "error", detachErr)
			result = RoomStateFailed
		}
	}

	m.mu.Lock()
	m.publishLocked(result, surfaced)
	m.ignoreEvents = false
	m.clearDiscontinuitiesForUnattachedLocked()
	m.mu.Unlock()

	return surfaced
}

// clearDiscontinuitiesForUnattachedLocked drops pending discontinuities for
// contributors that have never completed an attach. A gap on a channel that
// was never live is noise, not a discontinuity.
func (m *RoomLifecycleManager) clearDiscontinuitiesForUnattachedLocked() {
	for _, contributor := range m.contributors {
		if !m.firstAttachComplete[contributor] {
			m.discontinuity.clear(contributor)
		}
	}
}
