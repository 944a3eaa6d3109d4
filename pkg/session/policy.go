package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/txn2/session-gateway/pkg/clock"
	"github.com/txn2/session-gateway/pkg/protocol"
)

// Reconnect backoff defaults.
const (
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = time.Minute
	DefaultMultiplier      = 2.0
	DefaultRandomization   = 0.2
)

// Class groups disconnect reasons by how the session reacts to them.
type Class int

// Reason classes.
const (
	// ClassTransient reasons reconnect immediately.
	ClassTransient Class = iota + 1
	// ClassLost reasons reconnect with exponential backoff.
	ClassLost
	// ClassTerminal reasons end the session and wipe its credentials.
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassLost:
		return "lost"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify maps a disconnect reason to its class. The second result is false
// for reasons the policy does not recognize; those are treated as ClassLost.
func Classify(reason protocol.DisconnectReason) (Class, bool) {
	switch reason {
	case protocol.ReasonRestartRequired, protocol.ReasonStreamErrored:
		return ClassTransient, true
	case protocol.ReasonConnectionLost, protocol.ReasonTimedOut, protocol.ReasonConnectionClosed:
		return ClassLost, true
	case protocol.ReasonLoggedOut, protocol.ReasonBadSession:
		return ClassTerminal, true
	default:
		return ClassLost, false
	}
}

// Action is what the Manager does after a disconnect.
type Action int

// Reconnect actions.
const (
	ActionReconnect Action = iota + 1
	ActionGiveUp
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionReconnect:
		return "reconnect"
	case ActionGiveUp:
		return "give_up"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Decision is the outcome of applying the Policy to one disconnect.
type Decision struct {
	Action     Action
	Class      Class
	Recognized bool
	Delay      time.Duration
}

// PolicyConfig configures reconnect behavior.
type PolicyConfig struct {
	// MaxAttempts bounds consecutive reconnects of either retryable class.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Randomization   float64
}

// Policy decides how a session reacts to a disconnect reason.
type Policy struct {
	cfg   PolicyConfig
	clock clock.Clock
}

// NewPolicy creates a Policy. Zero backoff settings take the defaults.
func NewPolicy(cfg PolicyConfig, clk clock.Clock) *Policy {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Randomization < 0 || cfg.Randomization >= 1 {
		cfg.Randomization = DefaultRandomization
	}
	return &Policy{cfg: cfg, clock: clk}
}

// MaxAttempts returns the reconnect bound.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// NewBackOff returns a fresh exponential delay sequence. It never stops on
// its own; the attempt bound is applied by Decide.
func (p *Policy) NewBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.InitialInterval,
		RandomizationFactor: p.cfg.Randomization,
		Multiplier:          p.cfg.Multiplier,
		MaxInterval:         p.cfg.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               p.clock,
	}
	b.Reset()
	return b
}

// Decide applies the policy to a disconnect. attempts is the number of
// reconnects already made since the session was last Active; delays supplies
// the backoff for ClassLost reasons.
func (p *Policy) Decide(reason protocol.DisconnectReason, attempts int, delays backoff.BackOff) Decision {
	class, recognized := Classify(reason)
	d := Decision{Class: class, Recognized: recognized}

	switch {
	case class == ClassTerminal:
		d.Action = ActionTerminate
	case attempts >= p.cfg.MaxAttempts:
		d.Action = ActionGiveUp
	case class == ClassTransient:
		d.Action = ActionReconnect
	default:
		next := delays.NextBackOff()
		if next == backoff.Stop {
			d.Action = ActionGiveUp
			break
		}
		d.Action = ActionReconnect
		d.Delay = next
	}
	return d
}
