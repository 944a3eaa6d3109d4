// Package session manages the lifecycle of per-tenant protocol connections.
// The Manager owns a Registry of sessions, an LRU that caps the number of
// Active sessions, an idle reaper, and a reconnect Policy that interprets
// disconnect reasons. Credentials are synchronized with a credential.Store so
// that evicted sessions resume without a fresh pairing challenge.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/txn2/session-gateway/pkg/clock"
	"github.com/txn2/session-gateway/pkg/credential"
	"github.com/txn2/session-gateway/pkg/protocol"
)

// slogKeyError is the slog attribute key for error values.
const slogKeyError = "error"

var (
	// ErrAlreadyExists is returned by Registry.Create for a tracked tenant.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrNotConnected is returned when a handle no longer refers to an
	// Active session.
	ErrNotConnected = errors.New("session not connected")

	// ErrClosed is returned by a Manager that has been shut down.
	ErrClosed = errors.New("session manager closed")
)

// State is the lifecycle state of a session.
type State int

// Session states. StateNotTracked is reported for tenants the registry does
// not hold.
const (
	StateNotTracked State = iota
	StateConnecting
	StateAwaitingPairing
	StateActive
	StateReconnecting
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	StateNotTracked:      "not_tracked",
	StateConnecting:      "connecting",
	StateAwaitingPairing: "awaiting_pairing",
	StateActive:          "active",
	StateReconnecting:    "reconnecting",
	StateClosing:         "closing",
	StateClosed:          "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is the tracked lifecycle record for one tenant. Fields are owned
// by the Manager and only read or written under its lock.
type Session struct {
	// TenantID is the registry key.
	TenantID string

	// State is the current lifecycle state.
	State State

	// CreatedAt is when the session entered the registry.
	CreatedAt time.Time

	// LastActiveAt is updated on every touch.
	LastActiveAt time.Time

	// ReconnectAttempts counts reconnects since the session was last Active.
	ReconnectAttempts int

	conn      protocol.Conn
	gen       uint64
	challenge string
	attempt   *attempt

	creds        credential.Blob
	credsDirty   bool
	credsVersion uint64

	idle    clock.Timer
	idleSeq uint64
	retry   clock.Timer
	delays  backoff.BackOff
}

// Status is a point-in-time view of a tenant's session.
type Status struct {
	TenantID          string    `json:"tenant_id"`
	State             State     `json:"state"`
	Tracked           bool      `json:"tracked"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastActiveAt      time.Time `json:"last_active_at,omitzero"`
	Challenge         string    `json:"challenge,omitempty"`
}

func (s *Session) status() Status {
	return Status{
		TenantID:          s.TenantID,
		State:             s.State,
		Tracked:           true,
		ReconnectAttempts: s.ReconnectAttempts,
		LastActiveAt:      s.LastActiveAt,
		Challenge:         s.challenge,
	}
}

// ConnectError reports a connection attempt that failed.
type ConnectError struct {
	TenantID string
	Reason   protocol.DisconnectReason
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connecting tenant %s: %s: %v", e.TenantID, e.Reason, e.Err)
	}
	return fmt.Sprintf("connecting tenant %s: %s", e.TenantID, e.Reason)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Outcome is the successful resolution of a connection attempt.
type Outcome int

// Attempt outcomes.
const (
	OutcomeConnected Outcome = iota + 1
	OutcomePairingRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomePairingRequired:
		return "pairing_required"
	default:
		return "unknown"
	}
}

// Result is returned by AcquireOrCreate. Handle is set when the outcome is
// OutcomeConnected; Challenge when it is OutcomePairingRequired.
type Result struct {
	Outcome   Outcome
	Handle    *Handle
	Challenge string
}

// attempt is an in-flight connection attempt that concurrent callers join.
type attempt struct {
	done  chan struct{}
	prior State
	res   Result
	err   error
}

func newAttempt(prior State) *attempt {
	return &attempt{done: make(chan struct{}), prior: prior}
}

func (a *attempt) resolve(res Result, err error) {
	a.res, a.err = res, err
	close(a.done)
}
