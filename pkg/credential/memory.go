package credential

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map. Blobs are kept in
// encoded form so callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	codec   *Codec
	now     func() time.Time
}

type memoryRecord struct {
	payload   string
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore(codec *Codec) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		codec:   codec,
		now:     time.Now,
	}
}

// Load returns the record for tenantID.
func (s *MemoryStore) Load(_ context.Context, tenantID string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}

	blob := s.codec.DecodeStored(tenantID, rec.payload)
	if blob == nil {
		return nil, nil //nolint:nilnil // undecodable records are reported as absent
	}
	return &Record{
		TenantID:  tenantID,
		Blob:      blob,
		CreatedAt: rec.createdAt,
		UpdatedAt: rec.updatedAt,
	}, nil
}

// Save upserts the blob for tenantID.
func (s *MemoryStore) Save(_ context.Context, tenantID string, blob Blob) error {
	payload, err := s.codec.Encode(blob)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[tenantID]
	if !ok {
		rec.createdAt = now
	}
	rec.payload = payload
	rec.updatedAt = now
	s.records[tenantID] = rec
	return nil
}

// Delete removes the record for tenantID.
func (s *MemoryStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, tenantID)
	return nil
}

// Ping always succeeds.
func (*MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (*MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
