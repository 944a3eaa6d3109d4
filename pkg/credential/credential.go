// Package credential persists per-tenant credential material so that a
// tenant's protocol session can be resumed without a fresh pairing challenge.
// It defines the Store interface, the Record type, and the Codec that turns
// credential blobs containing raw key bytes into storable text and back.
package credential

import (
	"context"
	"time"
)

// Blob is the structured credential state handed out by the protocol client.
// Values may be nested maps, slices, scalars, and raw []byte key material.
type Blob map[string]any

// Record is one persisted credential entry.
type Record struct {
	// TenantID is the owning tenant and the storage key.
	TenantID string

	// Blob is the decoded credential state.
	Blob Blob

	// CreatedAt is when the record was first saved.
	CreatedAt time.Time

	// UpdatedAt is when the record was last saved.
	UpdatedAt time.Time
}

// Store defines the interface for credential persistence.
type Store interface {
	// Load returns the record for tenantID. Returns nil, nil when no record
	// exists or the stored payload cannot be decoded.
	Load(ctx context.Context, tenantID string) (*Record, error)

	// Save upserts the blob for tenantID.
	Save(ctx context.Context, tenantID string, blob Blob) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, tenantID string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
