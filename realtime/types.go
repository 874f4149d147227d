package realtime

import (
	"encoding/json"
	"strconv"
	"time"
)

// SessionTimer is an active child-care session timer as reported by the
// backend.
type SessionTimer struct {
	TimerID          string    `json:"timer_id"`
	ChildName        string    `json:"child_name"`
	StartedAt        time.Time `json:"started_at"`
	EndsAt           time.Time `json:"ends_at"`
	RemainingMinutes int       `json:"remaining_minutes"`
	Status           string    `json:"status"`
}

// TimerAlert is a pending threshold-crossing notification for a session
// timer, e.g. "5 minutes remaining".
type TimerAlert struct {
	TimerID      string    `json:"timer_id"`
	AlertMinutes int       `json:"alert_minutes"`
	ChildName    string    `json:"child_name,omitempty"`
	Message      string    `json:"message,omitempty"`
	TriggeredAt  time.Time `json:"triggered_at,omitempty"`
}

// DedupKey returns the composite identity under which this alert is
// surfaced at most once per poller lifetime: the same timer crossing the
// same threshold is never re-notified.
func (a TimerAlert) DedupKey() string {
	return a.TimerID + "-" + strconv.Itoa(a.AlertMinutes)
}

// StreamMessage is an inbound push-channel frame. The sync core parses the
// envelope only; message semantics belong to the caller.
type StreamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UpdateFunc receives the payload of a changed resource.
type UpdateFunc func(payload json.RawMessage)

// AlertFunc receives each alert exactly once per poller lifetime.
type AlertFunc func(alert TimerAlert)

// MessageFunc receives each parsed push-channel frame.
type MessageFunc func(msg StreamMessage)

// ErrorFunc receives every failure a component observes, regardless of how
// the component classifies it internally.
type ErrorFunc func(err error)
