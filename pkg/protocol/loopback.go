package protocol

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/session-gateway/pkg/credential"
)

const (
	loopbackEventBuffer = 8
	loopbackKeyBytes    = 32
)

// Loopback is a Client for local development. It never leaves the process:
// a fresh pairing emits a challenge and then approves itself after
// PairDelay, and sent messages are recorded and logged.
type Loopback struct {
	PairDelay time.Duration

	mu   sync.Mutex
	sent map[string][]Message
}

// NewLoopback creates a loopback client.
func NewLoopback(pairDelay time.Duration) *Loopback {
	return &Loopback{
		PairDelay: pairDelay,
		sent:      make(map[string][]Message),
	}
}

// Open starts a simulated connection.
func (l *Loopback) Open(_ context.Context, tenantID string, seed credential.Blob) (Conn, error) {
	c := &loopbackConn{
		client:   l,
		tenantID: tenantID,
		events:   make(chan Event, loopbackEventBuffer),
		done:     make(chan struct{}),
	}
	go c.run(seed)
	return c, nil
}

// Sent returns the messages sent for tenantID.
func (l *Loopback) Sent(tenantID string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent[tenantID]...)
}

func (l *Loopback) record(tenantID string, msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[tenantID] = append(l.sent[tenantID], msg)
}

type loopbackConn struct {
	client   *Loopback
	tenantID string
	events   chan Event
	done     chan struct{}
	once     sync.Once
}

func (c *loopbackConn) run(seed credential.Blob) {
	defer close(c.events)

	if seed == nil {
		code, err := randomHex(loopbackKeyBytes / 2)
		if err != nil {
			c.emit(Error{Err: err})
			return
		}
		if !c.emit(PairingChallenge{Code: code}) {
			return
		}

		timer := time.NewTimer(c.client.PairDelay)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		seed, err = newLoopbackCredentials(c.tenantID)
		if err != nil {
			c.emit(Error{Err: err})
			return
		}
		if !c.emit(CredentialsUpdated{Blob: seed}) {
			return
		}
	}

	if !c.emit(Opened{}) {
		return
	}
	<-c.done
}

// emit delivers ev unless the connection is closing.
func (c *loopbackConn) emit(ev Event) bool {
	select {
	case <-c.done:
		return false
	case c.events <- ev:
		return true
	}
}

func (c *loopbackConn) Events() <-chan Event {
	return c.events
}

func (c *loopbackConn) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return fmt.Errorf("sending message: %w", ctx.Err())
	default:
	}
	c.client.record(c.tenantID, msg)
	slog.Debug("loopback: message sent", "tenant_id", c.tenantID, "to", msg.To)
	return nil
}

func (c *loopbackConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func newLoopbackCredentials(tenantID string) (credential.Blob, error) {
	priv := make([]byte, loopbackKeyBytes)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generating loopback key: %w", err)
	}
	return credential.Blob{
		"me":       map[string]any{"id": tenantID},
		"noiseKey": map[string]any{"private": priv},
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Verify interface compliance.
var _ Client = (*Loopback)(nil)
