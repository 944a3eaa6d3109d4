// Package redis provides Redis storage for tenant credentials. Each record is
// a hash holding the encoded blob and its timestamps.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/txn2/session-gateway/pkg/credential"
)

const (
	defaultKeyPrefix = "session-gateway:creds:"

	fieldCreds     = "creds"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// Store implements credential.Store using Redis.
type Store struct {
	client goredis.UniversalClient
	codec  *credential.Codec
	prefix string
	now    func() time.Time
}

// Config configures the Redis credential store.
type Config struct {
	Codec     *credential.Codec
	KeyPrefix string
}

// New creates a Redis credential store on top of an existing client.
func New(client goredis.UniversalClient, cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Store{
		client: client,
		codec:  cfg.Codec,
		prefix: cfg.KeyPrefix,
		now:    time.Now,
	}
}

// Dial connects to a single Redis server and verifies connectivity.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func (s *Store) key(tenantID string) string {
	return s.prefix + tenantID
}

// Load retrieves the credential record for tenantID. Returns nil, nil if
// not found or if the stored payload cannot be decoded.
func (s *Store) Load(ctx context.Context, tenantID string) (*credential.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading credential hash: %w", err)
	}
	payload, ok := fields[fieldCreds]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}

	blob := s.codec.DecodeStored(tenantID, payload)
	if blob == nil {
		return nil, nil //nolint:nilnil // undecodable records are reported as absent
	}
	return &credential.Record{
		TenantID:  tenantID,
		Blob:      blob,
		CreatedAt: parseTime(fields[fieldCreatedAt]),
		UpdatedAt: parseTime(fields[fieldUpdatedAt]),
	}, nil
}

// Save upserts the credential blob for tenantID.
func (s *Store) Save(ctx context.Context, tenantID string, blob credential.Blob) error {
	payload, err := s.codec.Encode(blob)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	key := s.key(tenantID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, now)
		pipe.HSet(ctx, key, fieldCreds, payload, fieldUpdatedAt, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing credential hash: %w", err)
	}
	return nil
}

// Delete removes the credential record for tenantID.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	if err := s.client.Del(ctx, s.key(tenantID)).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("deleting credential hash: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Verify interface compliance.
var _ credential.Store = (*Store)(nil)
