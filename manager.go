package roomkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// DefaultTransientDetachTimeout is the grace period a detached channel gets
// to re-attach before the detachment is surfaced to the room lifecycle.
const DefaultTransientDetachTimeout = 5 * time.Second

// RoomLifecycleManager presents a room's feature channels as a single
// coherent lifecycle. It serializes user attach/detach operations, rolls
// back partial attach sequences, absorbs transient channel flaps, latches
// message-stream discontinuities, and recovers from suspensions.
//
// Room status listeners are invoked synchronously on the goroutine applying
// the transition; they must not block and must not call back into the
// manager synchronously.
type RoomLifecycleManager struct {
	logger       Logger
	status       *RoomStatus
	contributors []Contributor
	ops          *opSerializer

	transientTimeout time.Duration
	roomID           string
	sink             EventSink
	eventCh          chan cloudevents.Event
	metrics          *Metrics

	// mu guards the fields below. It is held while classifying contributor
	// events so room-state decisions are atomic with respect to each other.
	mu                         sync.Mutex
	ignoreEvents               bool
	recovering                 bool
	lastAttachErrorContributor Contributor
	firstAttachComplete        map[Contributor]bool

	transient     *transientTimerSet
	discontinuity *discontinuityTracker

	offFuncs    []func()
	releaseCtx  context.Context
	releaseStop context.CancelFunc
	releaseOnce sync.Once
}

// ManagerOption configures a RoomLifecycleManager.
type ManagerOption func(*RoomLifecycleManager)

// WithTransientDetachTimeout overrides the grace period for transient
// channel detachments.
func WithTransientDetachTimeout(d time.Duration) ManagerOption {
	return func(m *RoomLifecycleManager) {
		if d > 0 {
			m.transientTimeout = d
		}
	}
}

// WithRoomID sets the room identifier used in emitted events and metrics.
func WithRoomID(id string) ManagerOption {
	return func(m *RoomLifecycleManager) {
		m.roomID = id
	}
}

// WithEventSink publishes room lifecycle transitions and delivered
// discontinuities as CloudEvents to the given sink. Events are delivered in
// transition order on a dedicated goroutine, so the sink may block without
// stalling the lifecycle; a sink that falls more than eventBufferSize events
// behind loses the oldest overflow.
func WithEventSink(sink EventSink) ManagerOption {
	return func(m *RoomLifecycleManager) {
		m.sink = sink
	}
}

// WithMetrics records lifecycle metrics through the given collectors.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *RoomLifecycleManager) {
		m.metrics = metrics
	}
}

// NewRoomLifecycleManager creates a manager over the given contributors.
// The contributor order is fixed for the lifetime of the manager and
// determines attach and detach iteration order. The manager immediately
// subscribes to every contributor's channel.
func NewRoomLifecycleManager(status *RoomStatus, contributors []Contributor, logger Logger, opts ...ManagerOption) (*RoomLifecycleManager, error) {
	if status == nil {
		return nil, ErrStatusNil
	}
	if len(contributors) == 0 {
		return nil, ErrNoContributors
	}
	if logger == nil {
		logger = NoopLogger{}
	}

	releaseCtx, releaseStop := context.WithCancel(context.Background())
	m := &RoomLifecycleManager{
		logger:              logger,
		status:              status,
		contributors:        contributors,
		ops:                 newOpSerializer(),
		transientTimeout:    DefaultTransientDetachTimeout,
		roomID:              "room",
		firstAttachComplete: make(map[Contributor]bool),
		transient:           newTransientTimerSet(),
		discontinuity:       newDiscontinuityTracker(logger),
		releaseCtx:          releaseCtx,
		releaseStop:         releaseStop,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sink != nil {
		m.eventCh = make(chan cloudevents.Event, eventBufferSize)
		go m.dispatchEvents()
	}

	for _, contributor := range contributors {
		contributor := contributor
		off := contributor.Channel().OnStateChange(func(change ChannelStateChange) {
			m.handleChannelEvent(contributor, change)
		})
		m.offFuncs = append(m.offFuncs, off)
	}

	return m, nil
}

// Status returns the room status holder for state inspection and
// subscription.
func (m *RoomLifecycleManager) Status() *RoomStatus {
	return m.status
}

// Attach brings every contributor's channel to the attached state and the
// room to attached.
//
// If the room is already attached it returns immediately. If an attach or
// detach orchestration is in flight it waits for the next transition and
// settles on its outcome without starting a second orchestration. A failed
// room rejects immediately. Otherwise an attach orchestration runs; on
// failure the returned error carries the offending contributor's
// attachment error code.
func (m *RoomLifecycleManager) Attach(ctx context.Context) error {
	if m.released() {
		return ErrRoomReleased
	}

	switch m.status.Current() {
	case RoomStateAttached:
		return nil
	case RoomStateFailed:
		return roomInFailedStateError()
	case RoomStateAttaching:
		return m.awaitNextTransition(ctx, RoomStateAttaching, RoomStateAttached, ErrAttachFailed)
	case RoomStateDetaching:
		return m.awaitNextTransition(ctx, RoomStateDetaching, RoomStateAttached, ErrAttachFailed)
	}

	start := time.Now()
	err := m.ops.runExclusive(ctx, func() error {
		return m.doAttach(ctx)
	})
	if m.metrics != nil {
		m.metrics.observeOperation(m.roomID, "attach", start, err)
	}
	return err
}

// Detach brings every contributor's channel to the detached state and the
// room to detached.
//
// If the room is already detached it returns immediately; a failed room
// rejects with a room-in-failed-state error. If a detach orchestration is
// in flight it waits for the next transition and settles on its outcome.
// Otherwise a detach orchestration runs; the returned error carries the
// last failing contributor's detachment error code.
func (m *RoomLifecycleManager) Detach(ctx context.Context) error {
	if m.released() {
		return ErrRoomReleased
	}

	switch m.status.Current() {
	case RoomStateDetached:
		return nil
	case RoomStateFailed:
		return roomInFailedStateError()
	case RoomStateDetaching:
		return m.awaitNextTransition(ctx, RoomStateDetaching, RoomStateDetached, ErrDetachFailed)
	}

	start := time.Now()
	err := m.ops.runExclusive(ctx, func() error {
		return m.doDetach(ctx)
	})
	if m.metrics != nil {
		m.metrics.observeOperation(m.roomID, "detach", start, err)
	}
	return err
}

// Release disposes the manager: it stops any recovery loop, cancels pending
// transient timers, and unsubscribes from every contributor channel. The
// channels themselves are left untouched. Release is idempotent; a released
// manager rejects all further operations.
func (m *RoomLifecycleManager) Release() {
	m.releaseOnce.Do(func() {
		m.releaseStop()
		m.transient.clearAll()
		for _, off := range m.offFuncs {
			off()
		}
		m.logger.Debug("room lifecycle manager released", "room", m.roomID)
	})
}

func (m *RoomLifecycleManager) released() bool {
	select {
	case <-m.releaseCtx.Done():
		return true
	default:
		return false
	}
}

// awaitNextTransition blocks until the room publishes its next status
// change, resolving when it lands on want and rejecting with the emitted
// error otherwise. inFlight is the orchestration-phase state observed by
// the caller; if the room has already left it by the time the listener is
// registered, the outcome is read directly.
func (m *RoomLifecycleManager) awaitNextTransition(ctx context.Context, inFlight, want RoomState, opErr error) error {
	changes := make(chan RoomStatusChange, 1)
	off := m.status.OnChange(func(change RoomStatusChange) {
		select {
		case changes <- change:
		default:
		}
	})
	defer off()

	if current := m.status.Current(); current != inFlight {
		if current == want {
			return nil
		}
		if err := m.status.Error(); err != nil {
			return err
		}
		return fmt.Errorf("%w: room settled in %s", opErr, current)
	}

	select {
	case change := <-changes:
		if change.Current == want {
			return nil
		}
		if change.Error != nil {
			return change.Error
		}
		return fmt.Errorf("%w: room settled in %s", opErr, change.Current)
	case <-ctx.Done():
		return ctx.Err()
	case <-m.releaseCtx.Done():
		return ErrRoomReleased
	}
}

// publishLocked applies a room transition and emits events and metrics.
// Callers may hold m.mu; the status holder has its own lock and listener
// snapshotting, so no lock ordering issue arises.
func (m *RoomLifecycleManager) publishLocked(state RoomState, err *ErrorInfo) {
	if state == RoomStateFailed || state == RoomStateDetached {
		m.transient.clearAll()
	}
	change, emitted := m.status.setState(state, err)
	if !emitted {
		return
	}
	if m.metrics != nil {
		m.metrics.observeTransition(m.roomID, change)
	}
	m.emitEvent(NewRoomLifecycleEvent(m.roomID, change))
}

// flushDiscontinuities delivers pending discontinuities after a successful
// attach and emits the corresponding events and metrics.
func (m *RoomLifecycleManager) flushDiscontinuities() {
	delivered := m.discontinuity.flushIfAttached()
	for _, reason := range delivered {
		if m.metrics != nil {
			m.metrics.observeDiscontinuity(m.roomID, "delivered")
		}
		m.emitEvent(NewDiscontinuityEvent(m.roomID, reason))
	}
}

// emitEvent queues a CloudEvent for the configured sink. The room lifecycle
// never waits on a consumer: when the buffer is full the oldest queued event
// is dropped to make room, keeping the newest transitions flowing.
func (m *RoomLifecycleManager) emitEvent(event cloudevents.Event) {
	if m.eventCh == nil {
		return
	}
	for {
		select {
		case m.eventCh <- event:
			return
		default:
		}
		select {
		case dropped := <-m.eventCh:
			m.logger.Warn("event sink too slow, dropping oldest event", "room", m.roomID, "type", dropped.Type())
		default:
		}
	}
}

// dispatchEvents feeds queued events to the sink in order until the manager
// is released. Sink panics are isolated so a broken consumer cannot take the
// lifecycle down with it.
func (m *RoomLifecycleManager) dispatchEvents() {
	for {
		select {
		case event := <-m.eventCh:
			m.deliverEvent(event)
		case <-m.releaseCtx.Done():
			// Drain what was queued before release so callers observe the
			// final transitions.
			for {
				select {
				case event := <-m.eventCh:
					m.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (m *RoomLifecycleManager) deliverEvent(event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event sink panicked", "room", m.roomID, "type", event.Type(), "panic", r)
		}
	}()
	m.sink(event)
}
