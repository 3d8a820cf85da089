package roomkit

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventType constants for room lifecycle CloudEvents. Following the
// CloudEvents specification these use reverse domain notation.
const (
	EventTypeRoomAttaching     = "com.roomkit.room.attaching"
	EventTypeRoomAttached      = "com.roomkit.room.attached"
	EventTypeRoomDetaching     = "com.roomkit.room.detaching"
	EventTypeRoomDetached      = "com.roomkit.room.detached"
	EventTypeRoomSuspended     = "com.roomkit.room.suspended"
	EventTypeRoomFailed        = "com.roomkit.room.failed"
	EventTypeRoomInitialized   = "com.roomkit.room.initialized"
	EventTypeRoomDiscontinuity = "com.roomkit.room.discontinuity"
)

// RoomLifecycleSchema is the schema identifier for room lifecycle payloads.
const RoomLifecycleSchema = "roomkit.room.lifecycle.v1"

// EventSink consumes the CloudEvents a room emits: one per lifecycle
// transition and one per delivered discontinuity. Sinks receive events in
// transition order on a goroutine owned by the manager; see WithEventSink.
type EventSink func(event cloudevents.Event)

// eventBufferSize bounds the queue between the lifecycle and its sink.
const eventBufferSize = 64

// RoomLifecyclePayload is the structured CloudEvent payload for a room
// status transition.
type RoomLifecyclePayload struct {
	// RoomID identifies the room the event belongs to.
	RoomID string `json:"roomId"`
	// Current is the state the room moved to.
	Current string `json:"current"`
	// Previous is the state the room moved from.
	Previous string `json:"previous"`
	// ErrorCode is the machine-readable code behind the transition, if any.
	ErrorCode int `json:"errorCode,omitempty"`
	// ErrorMessage is the human-readable error, if any.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Timestamp is when the transition occurred (RFC3339 in JSON output).
	Timestamp time.Time `json:"timestamp"`
}

// DiscontinuityPayload is the structured CloudEvent payload for a delivered
// message-stream discontinuity.
type DiscontinuityPayload struct {
	// RoomID identifies the room the event belongs to.
	RoomID string `json:"roomId"`
	// ErrorCode is the code of the first error that caused the gap, if any.
	ErrorCode int `json:"errorCode,omitempty"`
	// ErrorMessage is the human-readable cause, if any.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Timestamp is when the discontinuity was delivered.
	Timestamp time.Time `json:"timestamp"`
}

// eventTypeForRoomState maps a room state to its CloudEvent type.
func eventTypeForRoomState(state RoomState) string {
	switch state {
	case RoomStateAttaching:
		return EventTypeRoomAttaching
	case RoomStateAttached:
		return EventTypeRoomAttached
	case RoomStateDetaching:
		return EventTypeRoomDetaching
	case RoomStateDetached:
		return EventTypeRoomDetached
	case RoomStateSuspended:
		return EventTypeRoomSuspended
	case RoomStateFailed:
		return EventTypeRoomFailed
	default:
		return EventTypeRoomInitialized
	}
}

// NewRoomLifecycleEvent builds a CloudEvent for a room status transition.
// It sets a payloadschema extension for lightweight routing without full
// payload decode.
func NewRoomLifecycleEvent(roomID string, change RoomStatusChange) cloudevents.Event {
	payload := RoomLifecyclePayload{
		RoomID:    roomID,
		Current:   string(change.Current),
		Previous:  string(change.Previous),
		Timestamp: time.Now(),
	}
	if change.Error != nil {
		payload.ErrorCode = change.Error.Code
		payload.ErrorMessage = change.Error.Message
	}

	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource("roomkit/rooms/" + roomID)
	event.SetType(eventTypeForRoomState(change.Current))
	event.SetTime(payload.Timestamp)
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetExtension("payloadschema", RoomLifecycleSchema)
	_ = event.SetData(cloudevents.ApplicationJSON, payload)
	return event
}

// NewDiscontinuityEvent builds a CloudEvent for a delivered discontinuity.
func NewDiscontinuityEvent(roomID string, reason *ErrorInfo) cloudevents.Event {
	payload := DiscontinuityPayload{
		RoomID:    roomID,
		Timestamp: time.Now(),
	}
	if reason != nil {
		payload.ErrorCode = reason.Code
		payload.ErrorMessage = reason.Message
	}

	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource("roomkit/rooms/" + roomID)
	event.SetType(EventTypeRoomDiscontinuity)
	event.SetTime(payload.Timestamp)
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetExtension("payloadschema", RoomLifecycleSchema)
	_ = event.SetData(cloudevents.ApplicationJSON, payload)
	return event
}

// generateEventID returns a time-ordered unique event ID, falling back to a
// random UUID if V7 generation fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
