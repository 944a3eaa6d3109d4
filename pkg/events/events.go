// Package events fans session lifecycle notifications out to live
// subscribers and external targets. Delivery is best effort: sinks never
// block or fail the caller.
package events

import (
	"time"

	"github.com/google/uuid"
)

// slogKeyError is the slog attribute key for error values.
const slogKeyError = "error"

// Event is one session lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Challenge string    `json:"challenge,omitempty"`
	Terminal  bool      `json:"terminal,omitempty"`
	Time      time.Time `json:"time"`
}

// New returns an Event with a fresh ID.
func New(tenantID, state, reason string, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		State:    state,
		Reason:   reason,
		Time:     at.UTC(),
	}
}

// Sink receives events. Notify must not block on delivery.
type Sink interface {
	Notify(ev Event)
}

// Multi fans one event out to several sinks.
type Multi []Sink

// Notify forwards ev to every sink.
func (m Multi) Notify(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(Event) {}

// Verify interface compliance.
var (
	_ Sink = Multi(nil)
	_ Sink = Discard{}
)
