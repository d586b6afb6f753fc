package domain

import "time"

// EventType identifies a class of integrity event. The set is closed and
// versioned: additions bump EventTypeSetVersion, removals never happen.
type EventType string

// Known event types.
const (
	EventFocusLost     EventType = "FOCUS_LOST"
	EventNoFace        EventType = "NO_FACE"
	EventMultipleFaces EventType = "MULTIPLE_FACES"
	EventPhoneDetected EventType = "PHONE_DETECTED"
	EventBookDetected  EventType = "BOOK_DETECTED"
	EventExtraDevice   EventType = "EXTRA_DEVICE"
)

// EventTypeSetVersion names the current revision of the event type set.
const EventTypeSetVersion = 1

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventFocusLost,
	EventNoFace,
	EventMultipleFaces,
	EventPhoneDetected,
	EventBookDetected,
	EventExtraDevice,
}

// Known reports whether t belongs to the versioned event type set. Unknown
// types are still stored and tallied; they just never deduct from the score.
func (t EventType) Known() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one discrete integrity occurrence within a session. Events are
// immutable once stored; ordering within a session is by OffsetMS, not by
// insertion order, because batches may arrive out of order across flushes.
type Event struct {
	ID         string
	SessionID  string
	Type       EventType
	OffsetMS   int64
	Confidence *float64
	Metadata   []byte
	CreatedAt  time.Time
}
