// Package postgres provides PostgreSQL storage for tenant credentials.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/session-gateway/pkg/credential"
)

const tableName = "credential_records"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// recordColumns lists columns returned by credential SELECT queries.
var recordColumns = []string{"tenant_id", "creds", "created_at", "updated_at"}

// Store implements credential.Store using PostgreSQL.
type Store struct {
	db    *sql.DB
	codec *credential.Codec
	now   func() time.Time
}

// Config configures the PostgreSQL credential store.
type Config struct {
	Codec *credential.Codec
}

// New creates a new PostgreSQL credential store.
func New(db *sql.DB, cfg Config) *Store {
	return &Store{
		db:    db,
		codec: cfg.Codec,
		now:   time.Now,
	}
}

// Load retrieves the credential record for tenantID. Returns nil, nil if
// not found or if the stored payload cannot be decoded.
func (s *Store) Load(ctx context.Context, tenantID string) (*credential.Record, error) {
	query, args, err := psq.Select(recordColumns...).
		From(tableName).
		Where(sq.Eq{"tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building credential query: %w", err)
	}

	var (
		rec     credential.Record
		payload string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rec.TenantID, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential record: %w", err)
	}

	rec.Blob = s.codec.DecodeStored(tenantID, payload)
	if rec.Blob == nil {
		return nil, nil //nolint:nilnil // undecodable records are reported as absent
	}
	return &rec, nil
}

// Save upserts the credential blob for tenantID. created_at is preserved on
// conflict; updated_at is refreshed.
func (s *Store) Save(ctx context.Context, tenantID string, blob credential.Blob) error {
	payload, err := s.codec.Encode(blob)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	now := s.now().UTC()
	query, args, err := psq.Insert(tableName).
		Columns(recordColumns...).
		Values(tenantID, payload, now, now).
		Suffix("ON CONFLICT (tenant_id) DO UPDATE SET creds = EXCLUDED.creds, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building credential upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting credentials: %w", err)
	}
	return nil
}

// Delete removes the credential record for tenantID.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	query, args, err := psq.Delete(tableName).Where(sq.Eq{"tenant_id": tenantID}).ToSql()
	if err != nil {
		return fmt.Errorf("building credential delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close is a no-op; the *sql.DB is owned by the caller.
func (*Store) Close() error {
	return nil
}

// Verify interface compliance.
var _ credential.Store = (*Store)(nil)
