package events

import (
	"time"

	"github.com/goccy/go-json"
)

// Type identifies the kind of an Event.
type Type string

const (
	// TypeHello is queued on every new stream before anything else.
	TypeHello Type = "hello"
	// TypeLocation carries a friend's new position.
	TypeLocation Type = "location"
	// TypeNearby is a friend's "I am close by" notification.
	TypeNearby Type = "nearby"
)

// Event is a message delivered to a user's live streams.
type Event struct {
	Type      Type
	From      string
	Latitude  float64
	Longitude float64
	Message   string
	Timestamp time.Time
}

// Hello returns the greeting queued when a stream connects.
func Hello(now time.Time) Event {
	return Event{Type: TypeHello, Message: "connected", Timestamp: now}
}

// LocationUpdate returns the event published to a user's friends when they report a position.
func LocationUpdate(from string, latitude, longitude float64, recordedAt time.Time) Event {
	return Event{Type: TypeLocation, From: from, Latitude: latitude, Longitude: longitude, Timestamp: recordedAt}
}

// Nearby returns a proximity notification from a friend.
func Nearby(from string, now time.Time) Event {
	return Event{Type: TypeNearby, From: from, Message: from + " is nearby", Timestamp: now}
}

type helloPayload struct {
	Type    Type      `json:"type"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

type locationPayload struct {
	Type      Type      `json:"type"`
	From      string    `json:"from"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	TS        time.Time `json:"ts"`
}

type nearbyPayload struct {
	Type    Type      `json:"type"`
	From    string    `json:"from"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// MarshalJSON renders the wire payload for the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp.UTC()
	switch e.Type {
	case TypeHello:
		return json.Marshal(helloPayload{Type: e.Type, Message: e.Message, TS: ts})
	case TypeLocation:
		return json.Marshal(locationPayload{Type: e.Type, From: e.From, Latitude: e.Latitude, Longitude: e.Longitude, TS: ts})
	default:
		return json.Marshal(nearbyPayload{Type: e.Type, From: e.From, Message: e.Message, TS: ts})
	}
}
