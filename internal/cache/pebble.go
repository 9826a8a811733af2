// Package cache holds short-lived idempotent responses.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Cache is a TTL key/value store. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const keyPrefix = "idempotency/"

// PebbleCache stores entries as [expires_at:8][payload] under keyPrefix.
// Expired entries are invisible to Get and removed by Purge.
type PebbleCache struct {
	db     *pebble.DB
	now    func() time.Time
	logger *slog.Logger
}

var _ Cache = (*PebbleCache)(nil)

// Open opens (or creates) a cache in dir.
func Open(dir string, logger *slog.Logger) (*PebbleCache, error) {
	return open(dir, &pebble.Options{}, logger)
}

// OpenInMemory opens a cache that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*PebbleCache, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func open(dir string, opts *pebble.Options, logger *slog.Logger) (*PebbleCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &PebbleCache{db: db, now: time.Now, logger: logger}, nil
}

// Close closes the underlying database.
func (c *PebbleCache) Close() error {
	return c.db.Close()
}

func (c *PebbleCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, closer, err := c.db.Get([]byte(keyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	defer closer.Close()

	expiresAt, payload, err := decodeEntry(val)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !c.now().Before(expiresAt) {
		return nil, false, nil
	}
	// val is only valid until closer.Close.
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true, nil
}

func (c *PebbleCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	entry := encodeEntry(c.now().Add(ttl), value)
	if err := c.db.Set([]byte(keyPrefix+key), entry, pebble.NoSync); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Purge deletes every expired entry and returns how many were removed.
func (c *PebbleCache) Purge() (int, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "\xff"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	now := c.now()
	batch := c.db.NewBatch()
	defer batch.Close()

	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		expiresAt, _, err := decodeEntry(iter.Value())
		if err == nil && now.Before(expiresAt) {
			continue
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return removed, err
		}
		removed++
	}
	if err := iter.Error(); err != nil {
		return removed, err
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, batch.Commit(pebble.NoSync)
}

// StartJanitor purges expired entries every interval until ctx is cancelled.
func (c *PebbleCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.Purge()
				if err != nil {
					c.logger.Error("idempotency cache purge failed", slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					c.logger.Debug("idempotency cache purged", slog.Int("entries", n))
				}
			}
		}
	}()
}

func encodeEntry(expiresAt time.Time, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	copy(buf[8:], payload)
	return buf
}

func decodeEntry(b []byte) (time.Time, []byte, error) {
	if len(b) < 8 {
		return time.Time{}, nil, errors.New("invalid cache entry length")
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b[:8]))), b[8:], nil
}
