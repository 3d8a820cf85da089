package roomkit

import "context"

// doDetach runs the detach orchestration. The caller holds the operation
// slot. Every contributor is detached in order; errors are collected and
// the last one surfaces. Any failure leaves the room failed.
func (m *RoomLifecycleManager) doDetach(ctx context.Context) error {
	m.mu.Lock()
	if m.released() {
		m.mu.Unlock()
		return ErrRoomReleased
	}
	switch m.status.Current() {
	case RoomStateDetached:
		m.mu.Unlock()
		return nil
	case RoomStateFailed:
		m.mu.Unlock()
		return roomInFailedStateError()
	}
	m.ignoreEvents = true
	m.publishLocked(RoomStateDetaching, nil)
	m.mu.Unlock()

	var lastErr *ErrorInfo
	for _, contributor := range m.contributors {
		if err := contributor.Channel().Detach(ctx); err != nil {
			lastErr = taggedWithCode(
				errorInfoFrom(err, contributor.DetachmentErrorCode(), "failed to detach feature channel"),
				contributor.DetachmentErrorCode(),
			)
			m.logger.Error("contributor detach failed", "room", m.roomID, "error", lastErr)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if lastErr != nil {
		m.publishLocked(RoomStateFailed, lastErr)
		m.ignoreEvents = false
		return lastErr
	}

	m.publishLocked(RoomStateDetached, nil)
	m.ignoreEvents = false
	return nil
}
