package platform

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/session-gateway/pkg/clock"
	"github.com/txn2/session-gateway/pkg/credential"
	"github.com/txn2/session-gateway/pkg/protocol"
)

// Options configures the platform.
type Options struct {
	// Config is the gateway configuration.
	Config *Config

	// Database connection for the postgres backend (optional, opened from
	// config if not provided).
	DB *sql.DB

	// CredentialStore (optional, created from config if not provided).
	CredentialStore credential.Store

	// Client is the protocol client (optional, defaults to the loopback
	// development client).
	Client protocol.Client

	// Registry receives the gateway's metrics and backs /metrics
	// (optional, a fresh registry is created if not provided).
	Registry *prometheus.Registry

	// Clock drives session timers (optional, defaults to the wall clock).
	Clock clock.Clock
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithCredentialStore sets the credential store.
func WithCredentialStore(store credential.Store) Option {
	return func(o *Options) {
		o.CredentialStore = store
	}
}

// WithClient sets the protocol client.
func WithClient(client protocol.Client) Option {
	return func(o *Options) {
		o.Client = client
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *Options) {
		o.Registry = reg
	}
}

// WithClock sets the clock used by the session manager.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}
