// Package redisiom is a concrete IOM driver backed by Redis, grounded in
// the teacher's internal/store/redis.go client-wrapper pattern and its
// internal/cache cache-aside interface.
package redisiom

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
)

// IOM stores each DataObject's on-disk wire form (header+meta+data) as a
// single Redis string value, keyed by "kelpie:{bucket}:{k1}:{k2}".
type IOM struct {
	name   string
	client *redis.Client
}

// New dials addr and verifies connectivity.
func New(ctx context.Context, name, addr, password string, db int) (*IOM, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisiom: connect: %w", err)
	}
	logging.Op().Info("redisiom connected", "iom", name, "addr", addr)
	return &IOM{name: name, client: client}, nil
}

// Name identifies this IOM instance (matches a URL's iom= option).
func (m *IOM) Name() string { return m.name }

// Close releases the underlying Redis client.
func (m *IOM) Close() error { return m.client.Close() }

func redisKey(bucket faodel.Bucket, key faodel.Key) string {
	return fmt.Sprintf("kelpie:%d:%s:%s", uint32(bucket), key.K1, key.K2)
}

// Write persists ldo's on-disk wire form under bucket/key with no expiry —
// IOM-backed keys live until explicitly Dropped.
func (m *IOM) Write(ctx context.Context, bucket faodel.Bucket, key faodel.Key, ldo *lunasa.DataObject) error {
	var buf bytes.Buffer
	if _, err := ldo.WriteTo(&buf); err != nil {
		return fmt.Errorf("redisiom: encode: %w", err)
	}
	if err := m.client.Set(ctx, redisKey(bucket, key), buf.Bytes(), 0).Err(); err != nil {
		return fmt.Errorf("redisiom: write: %w", err)
	}
	return nil
}

// Read fetches the object at bucket/key, allocating it from allocator.
func (m *IOM) Read(ctx context.Context, bucket faodel.Bucket, key faodel.Key, allocator *lunasa.Allocator) (*lunasa.DataObject, error) {
	payload, err := m.client.Get(ctx, redisKey(bucket, key)).Bytes()
	if err == redis.Nil {
		return nil, faodel.NewError(faodel.CodeNotFound, "redisiom: %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("redisiom: read: %w", err)
	}
	return lunasa.ReadDataObject(bytes.NewReader(payload), allocator)
}

// GetInfo reports whether bucket/key exists and its size, without fetching
// the data.
func (m *IOM) GetInfo(ctx context.Context, bucket faodel.Bucket, key faodel.Key) (iom.Info, error) {
	n, err := m.client.StrLen(ctx, redisKey(bucket, key)).Result()
	if err == redis.Nil || n == 0 {
		return iom.Info{}, nil
	}
	if err != nil {
		return iom.Info{}, fmt.Errorf("redisiom: get_info: %w", err)
	}
	return iom.Info{Exists: true, DataSize: int(n), Availability: faodel.AvailInDisk}, nil
}

// Drop removes bucket/key, if present.
func (m *IOM) Drop(ctx context.Context, bucket faodel.Bucket, key faodel.Key) error {
	if err := m.client.Del(ctx, redisKey(bucket, key)).Err(); err != nil {
		return fmt.Errorf("redisiom: drop: %w", err)
	}
	return nil
}

var _ iom.IOM = (*IOM)(nil)
