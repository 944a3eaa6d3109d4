package protocol

import (
	"fmt"

	"github.com/txn2/session-gateway/pkg/credential"
)

// Event is a connection lifecycle event. The set of implementations is
// closed: PairingChallenge, Opened, CredentialsUpdated, Closed and Error.
type Event interface {
	isEvent()
}

// PairingChallenge carries the out-of-band code the user must scan to
// authorize a new credential. It may be emitted repeatedly as codes rotate.
type PairingChallenge struct {
	Code string
}

// Opened reports that the connection is authenticated and usable.
type Opened struct{}

// CredentialsUpdated carries the complete current credential state.
type CredentialsUpdated struct {
	Blob credential.Blob
}

// Closed reports that the connection ended.
type Closed struct {
	Reason DisconnectReason
	Err    error
}

// Error reports a connection-level failure that ended the connection
// without a classified disconnect reason.
type Error struct {
	Err error
}

func (PairingChallenge) isEvent()   {}
func (Opened) isEvent()             {}
func (CredentialsUpdated) isEvent() {}
func (Closed) isEvent()             {}
func (Error) isEvent()              {}

// DisconnectReason classifies why a connection closed.
type DisconnectReason string

// Disconnect reasons reported by the protocol client.
const (
	ReasonRestartRequired  DisconnectReason = "restart_required"
	ReasonStreamErrored    DisconnectReason = "stream_errored"
	ReasonConnectionLost   DisconnectReason = "connection_lost"
	ReasonTimedOut         DisconnectReason = "timed_out"
	ReasonConnectionClosed DisconnectReason = "connection_closed"
	ReasonLoggedOut        DisconnectReason = "logged_out"
	ReasonBadSession       DisconnectReason = "bad_session"
	ReasonUnknown          DisconnectReason = "unknown"
)

// Status codes used by the protocol service for disconnects.
const (
	statusLoggedOut        = 401
	statusTimedOut         = 408
	statusConnectionClosed = 428
	statusBadSession       = 500
	statusRestartRequired  = 515
)

// ReasonForStatus maps a numeric disconnect status to a reason. The service
// reports both lost connections and timeouts as 408; those map to
// ReasonConnectionLost.
func ReasonForStatus(code int) DisconnectReason {
	switch code {
	case statusLoggedOut:
		return ReasonLoggedOut
	case statusTimedOut:
		return ReasonConnectionLost
	case statusConnectionClosed:
		return ReasonConnectionClosed
	case statusBadSession:
		return ReasonBadSession
	case statusRestartRequired:
		return ReasonRestartRequired
	default:
		return ReasonUnknown
	}
}

// Describe returns a short description of ev for logs.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case PairingChallenge:
		return "pairing_challenge"
	case Opened:
		return "opened"
	case CredentialsUpdated:
		return "credentials_updated"
	case Closed:
		return fmt.Sprintf("closed(%s)", e.Reason)
	case Error:
		return fmt.Sprintf("error(%v)", e.Err)
	default:
		return fmt.Sprintf("%T", ev)
	}
}
