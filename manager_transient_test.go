package roomkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransientDetachIsAbsorbed(t *testing.T) {
	manager, status, mocks := newTestRoom(t, 3, WithTransientDetachTimeout(500*time.Millisecond))
	require.NoError(t, manager.Attach(context.Background()))
	recorder := recordStates(status)

	mocks[0].channel.transition(ChannelStateDetached, false, NewErrorInfo(0, "blip"))
	assert.Equal(t, RoomStateAttached, status.Current())
	require.True(t, manager.transient.has(mocks[0]))

	mocks[0].channel.transition(ChannelStateAttached, true, nil)
	assert.False(t, manager.transient.has(mocks[0]))

	// Give a fired timer every chance to surface incorrectly.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, recorder.states(), "an absorbed flap must not emit room transitions")
	assert.Equal(t, RoomStateAttached, status.Current())
}

func TestNonTransientDetachSurfacesAndRecovers(t *testing.T) {
	manager, status, mocks := newTestRoom(t, 3, WithTransientDetachTimeout(20*time.Millisecond))
	require.NoError(t, manager.Attach(context.Background()))
	recorder := recordStates(status)

	reason := NewErrorInfo(0, "connection lost")
	mocks[0].channel.transition(ChannelStateDetached, false, reason)

	require.Eventually(t, func() bool {
		return status.Current() == RoomStateDetached
	}, time.Second, time.Millisecond)

	change, ok := recorder.last()
	require.True(t, ok)
	require.NotNil(t, change.Error)
	assert.Equal(t, mocks[0].attachmentCode, change.Error.Code)

	// Recovery detaches the healthy contributors while it waits.
	require.Eventually(t, func() bool {
		_, detachesB := mocks[1].channel.counts()
		_, detachesC := mocks[2].channel.counts()
		return detachesB == 1 && detachesC == 1
	}, time.Second, time.Millisecond)

	// The offending channel comes back; the recovery re-attaches the room.
	mocks[0].channel.transition(ChannelStateAttached, true, nil)
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateAttached
	}, time.Second, time.Millisecond)

	states := recorder.states()
	assert.Equal(t, RoomStateAttached, states[len(states)-1])
	assert.Contains(t, states, RoomStateAttaching)
}

func TestSuspendedChannelTriggersImmediateRecovery(t *testing.T) {
	manager, status, mocks := newTestRoom(t, 3)
	require.NoError(t, manager.Attach(context.Background()))
	recorder := recordStates(status)

	reason := NewErrorInfo(0, "server suspended channel")
	mocks[0].channel.transition(ChannelStateSuspended, false, reason)

	// No transient grace for suspensions.
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateSuspended
	}, time.Second, time.Millisecond)

	change, ok := recorder.last()
	require.True(t, ok)
	require.NotNil(t, change.Error)
	assert.Equal(t, mocks[0].attachmentCode, change.Error.Code)
	assert.Equal(t, "server suspended channel", change.Error.Message)

	require.Eventually(t, func() bool {
		_, detachesB := mocks[1].channel.counts()
		_, detachesC := mocks[2].channel.counts()
		return detachesB == 1 && detachesC == 1
	}, time.Second, time.Millisecond)

	mocks[0].channel.transition(ChannelStateAttached, true, nil)
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateAttached
	}, time.Second, time.Millisecond)
}

func TestRecoveryFailsRoomWhenOffendingChannelFails(t *testing.T) {
	manager, status, mocks := newTestRoom(t, 2)
	require.NoError(t, manager.Attach(context.Background()))

	mocks[0].channel.transition(ChannelStateSuspended, false, NewErrorInfo(0, "suspended"))
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateSuspended
	}, time.Second, time.Millisecond)

	mocks[0].channel.transition(ChannelStateFailed, false, NewErrorInfo(0, "gave up"))
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateFailed
	}, time.Second, time.Millisecond)

	err := status.Error()
	require.NotNil(t, err)
	assert.Equal(t, mocks[0].attachmentCode, err.Code)
}

func TestRecoveryIteratesWhenReattachFailsOnAnotherContributor(t *testing.T) {
	manager, status, mocks := newTestRoom(t, 3, WithTransientDetachTimeout(20*time.Millisecond))
	require.NoError(t, manager.Attach(context.Background()))

	// The re-attach run will trip over the second contributor.
	mocks[1].channel.failNextAttach(NewErrorInfo(0, "still draining"), ChannelStateSuspended)

	mocks[0].channel.transition(ChannelStateDetached, false, NewErrorInfo(0, "lost"))
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateDetached
	}, time.Second, time.Millisecond)

	mocks[0].channel.transition(ChannelStateAttached, true, nil)

	// The failed re-attach hands recovery over to the new offender; once it
	// comes back the room converges on attached.
	require.Eventually(t, func() bool {
		if status.Current() != RoomStateDetached {
			return false
		}
		err := status.Error()
		return err != nil && err.Code == mocks[1].attachmentCode
	}, time.Second, time.Millisecond)

	mocks[1].channel.transition(ChannelStateAttached, true, nil)
	require.Eventually(t, func() bool {
		return status.Current() == RoomStateAttached
	}, time.Second, time.Millisecond)
}
