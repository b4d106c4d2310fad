// Package pgiom is a concrete IOM driver backed by Postgres, grounded in
// the teacher's internal/store connection-pool pattern (pgxpool.Pool +
// ensureSchema + %w-wrapped errors).
package pgiom

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
)

// IOM persists DataObjects as rows in a single "kelpie_objects" table,
// keyed by (bucket, k1, k2), storing the exact on-disk wire format
// (header+meta+data) as a bytea column so Read can hand the bytes straight
// to lunasa.ReadDataObject.
type IOM struct {
	name string
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the backing table exists.
func New(ctx context.Context, name, dsn string) (*IOM, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgiom: DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgiom: create pool: %w", err)
	}
	m := &IOM{name: name, pool: pool}
	if err := m.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgiom: ping: %w", err)
	}
	if err := m.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Op().Info("pgiom connected", "iom", name)
	return m, nil
}

func (m *IOM) ensureSchema(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS kelpie_objects (
		bucket BIGINT NOT NULL,
		k1 TEXT NOT NULL,
		k2 TEXT NOT NULL,
		payload BYTEA NOT NULL,
		PRIMARY KEY (bucket, k1, k2)
	)`)
	if err != nil {
		return fmt.Errorf("pgiom: ensure schema: %w", err)
	}
	return nil
}

// Name identifies this IOM instance (matches a URL's iom= option).
func (m *IOM) Name() string { return m.name }

// Close releases the connection pool.
func (m *IOM) Close() { m.pool.Close() }

// Write persists ldo's on-disk wire form under bucket/key.
func (m *IOM) Write(ctx context.Context, bucket faodel.Bucket, key faodel.Key, ldo *lunasa.DataObject) error {
	var buf bytes.Buffer
	if _, err := ldo.WriteTo(&buf); err != nil {
		return fmt.Errorf("pgiom: encode: %w", err)
	}
	_, err := m.pool.Exec(ctx,
		`INSERT INTO kelpie_objects (bucket, k1, k2, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (bucket, k1, k2) DO UPDATE SET payload = EXCLUDED.payload`,
		uint32(bucket), key.K1, key.K2, buf.Bytes())
	if err != nil {
		return fmt.Errorf("pgiom: write: %w", err)
	}
	return nil
}

// Read fetches the object at bucket/key, allocating it from allocator.
func (m *IOM) Read(ctx context.Context, bucket faodel.Bucket, key faodel.Key, allocator *lunasa.Allocator) (*lunasa.DataObject, error) {
	var payload []byte
	err := m.pool.QueryRow(ctx,
		`SELECT payload FROM kelpie_objects WHERE bucket = $1 AND k1 = $2 AND k2 = $3`,
		uint32(bucket), key.K1, key.K2).Scan(&payload)
	if err != nil {
		return nil, faodel.Wrap(faodel.CodeNotFound, err, "pgiom: %s not found", key)
	}
	return lunasa.ReadDataObject(bytes.NewReader(payload), allocator)
}

// GetInfo reports whether bucket/key exists and its size, without fetching
// the data.
func (m *IOM) GetInfo(ctx context.Context, bucket faodel.Bucket, key faodel.Key) (iom.Info, error) {
	var n int
	err := m.pool.QueryRow(ctx,
		`SELECT length(payload) FROM kelpie_objects WHERE bucket = $1 AND k1 = $2 AND k2 = $3`,
		uint32(bucket), key.K1, key.K2).Scan(&n)
	if err != nil {
		return iom.Info{}, nil // absent is a normal "not found" report, not an error
	}
	return iom.Info{Exists: true, DataSize: n, Availability: faodel.AvailInDisk}, nil
}

// Drop removes bucket/key, if present.
func (m *IOM) Drop(ctx context.Context, bucket faodel.Bucket, key faodel.Key) error {
	_, err := m.pool.Exec(ctx,
		`DELETE FROM kelpie_objects WHERE bucket = $1 AND k1 = $2 AND k2 = $3`,
		uint32(bucket), key.K1, key.K2)
	if err != nil {
		return fmt.Errorf("pgiom: drop: %w", err)
	}
	return nil
}

var _ iom.IOM = (*IOM)(nil)
