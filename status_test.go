package roomkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomStatusInitialState(t *testing.T) {
	status := NewRoomStatus(nil)
	assert.Equal(t, RoomStateInitialized, status.Current())
	assert.Nil(t, status.Error())
}

func TestRoomStatusListenersInvokedInRegistrationOrder(t *testing.T) {
	status := NewRoomStatus(nil)

	var order []string
	status.OnChange(func(change RoomStatusChange) {
		order = append(order, "first")
	})
	status.OnChange(func(change RoomStatusChange) {
		order = append(order, "second")
	})
	status.OnChange(func(change RoomStatusChange) {
		order = append(order, "third")
	})

	status.setState(RoomStateAttaching, nil)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRoomStatusChangeCarriesPreviousStateAndError(t *testing.T) {
	status := NewRoomStatus(nil)

	var got RoomStatusChange
	status.OnChange(func(change RoomStatusChange) {
		got = change
	})

	reason := NewErrorInfo(102001, "boom")
	status.setState(RoomStateFailed, reason)

	assert.Equal(t, RoomStateFailed, got.Current)
	assert.Equal(t, RoomStateInitialized, got.Previous)
	assert.Same(t, reason, got.Error)
	assert.Equal(t, RoomStateFailed, status.Current())
	assert.Same(t, reason, status.Error())
}

func TestRoomStatusNoOpTransitionSuppressed(t *testing.T) {
	status := NewRoomStatus(nil)
	status.setState(RoomStateAttached, nil)

	calls := 0
	status.OnChange(func(change RoomStatusChange) {
		calls++
	})

	_, emitted := status.setState(RoomStateAttached, nil)
	assert.False(t, emitted)
	assert.Zero(t, calls)

	// Same state but a different error identity is a real change.
	_, emitted = status.setState(RoomStateAttached, NewErrorInfo(1, "x"))
	assert.True(t, emitted)
	assert.Equal(t, 1, calls)
}

func TestRoomStatusOnChangeOnceFiresExactlyOnce(t *testing.T) {
	status := NewRoomStatus(nil)

	calls := 0
	status.OnChangeOnce(func(change RoomStatusChange) {
		calls++
	})

	status.setState(RoomStateAttaching, nil)
	status.setState(RoomStateAttached, nil)
	assert.Equal(t, 1, calls)
}

func TestRoomStatusOnceRemovedBeforeNextListenerRuns(t *testing.T) {
	status := NewRoomStatus(nil)

	var onceCalls int
	status.OnChangeOnce(func(change RoomStatusChange) {
		onceCalls++
		// Re-entrant transition: the once listener must not see it.
		status.setState(RoomStateAttached, nil)
	})

	status.setState(RoomStateAttaching, nil)
	require.Equal(t, 1, onceCalls)
	assert.Equal(t, RoomStateAttached, status.Current())
}

func TestRoomStatusOffRemovesListener(t *testing.T) {
	status := NewRoomStatus(nil)

	calls := 0
	off := status.OnChange(func(change RoomStatusChange) {
		calls++
	})

	status.setState(RoomStateAttaching, nil)
	off()
	status.setState(RoomStateAttached, nil)
	assert.Equal(t, 1, calls)

	// A second off call is a no-op.
	off()
}

func TestRoomStatusOffAll(t *testing.T) {
	status := NewRoomStatus(nil)

	calls := 0
	status.OnChange(func(change RoomStatusChange) { calls++ })
	status.OnChangeOnce(func(change RoomStatusChange) { calls++ })
	status.OffAll()

	status.setState(RoomStateAttaching, nil)
	assert.Zero(t, calls)
}
