package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"mercator-hq/tollgate/pkg/quota"
)

const (
	fieldWindowStart = "window_start"
	fieldUsed        = "used"
	fieldLimit       = "max_requests"
	fieldLastRequest = "last_request"

	// maxWatchAttempts bounds optimistic retries of a single Update.
	maxWatchAttempts = 3
)

// RedisBackend implements quota.Store on Redis.
//
// Each record is a hash at <prefix>:<namespace>:<key>. A sorted set per
// namespace at <prefix>:index:<namespace> scores keys by window start so
// Cleanup can find expired records without scanning the keyspace.
type RedisBackend struct {
	rdb       *redis.Client
	ownClient bool

	prefix string

	// deletes paces Cleanup; nil means unpaced.
	deletes *rate.Limiter
}

// RedisBackendConfig configures a RedisBackend created by NewRedisBackend.
type RedisBackendConfig struct {
	Address  string
	Password string
	DB       int

	// KeyPrefix namespaces every key this backend writes.
	// Default: "tollgate"
	KeyPrefix string

	// DeletesPerSecond paces Cleanup so a large sweep does not stall Redis.
	// Zero disables pacing.
	DeletesPerSecond int
}

// RedisOption customizes a RedisBackend.
type RedisOption func(*RedisBackend)

// WithKeyPrefix sets the prefix for every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) {
		if p := strings.Trim(prefix, ":"); p != "" {
			b.prefix = p
		}
	}
}

// WithDeleteRate paces Cleanup to at most perSecond deletions.
func WithDeleteRate(perSecond int) RedisOption {
	return func(b *RedisBackend) {
		if perSecond > 0 {
			b.deletes = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		} else {
			b.deletes = nil
		}
	}
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	backend := NewRedisBackendWithClient(rdb,
		WithKeyPrefix(cfg.KeyPrefix),
		WithDeleteRate(cfg.DeletesPerSecond),
	)
	backend.ownClient = true
	return backend, nil
}

// NewRedisBackendWithClient wraps an existing client. Close does not close
// a client supplied this way.
func NewRedisBackendWithClient(rdb *redis.Client, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{
		rdb:    rdb,
		prefix: "tollgate",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load retrieves the record for a namespace and key.
func (b *RedisBackend) Load(ctx context.Context, ns quota.Namespace, key string) (*quota.Record, error) {
	if err := checkKey(ns, key); err != nil {
		return nil, err
	}

	fields, err := b.rdb.HGetAll(ctx, b.recordKey(ns, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return decodeRecord(ns, key, fields)
}

// Save creates or overwrites a record.
func (b *RedisBackend) Save(ctx context.Context, record *quota.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.write(ctx, pipe, record)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Update performs a WATCH/MULTI read-modify-write. A concurrent write to the
// same record restarts the attempt; after maxWatchAttempts the update fails
// with quota.ErrConflict.
func (b *RedisBackend) Update(ctx context.Context, ns quota.Namespace, key string, fn quota.UpdateFunc) (*quota.Record, error) {
	if err := checkKey(ns, key); err != nil {
		return nil, err
	}

	recordKey := b.recordKey(ns, key)
	var result *quota.Record

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, recordKey).Result()
		if err != nil {
			return err
		}
		current, err := decodeRecord(ns, key, fields)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		if err := checkUpdated(next, ns, key); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			b.write(ctx, pipe, next)
			return nil
		})
		if err != nil {
			return err
		}
		result = next.Clone()
		return nil
	}

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := b.rdb.Watch(ctx, txf, recordKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, quota.ErrInvalidRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	return nil, fmt.Errorf("%w: %s", quota.ErrConflict, recordKey)
}

// Delete removes a record.
func (b *RedisBackend) Delete(ctx context.Context, ns quota.Namespace, key string) error {
	if err := checkKey(ns, key); err != nil {
		return err
	}

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.recordKey(ns, key))
		pipe.ZRem(ctx, b.indexKey(ns), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns all records in a namespace.
func (b *RedisBackend) List(ctx context.Context, ns quota.Namespace) ([]*quota.Record, error) {
	keys, err := b.rdb.ZRange(ctx, b.indexKey(ns), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, b.recordKey(ns, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*quota.Record, 0, len(keys))
	for i, cmd := range cmds {
		record, err := decodeRecord(ns, keys[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		// Index entries can briefly outlive their hash.
		if record != nil {
			records = append(records, record)
		}
	}
	return records, nil
}

// Cleanup removes records whose window started before the cutoff. Each
// candidate is re-checked under WATCH so a record that started a new window
// since the index was read survives.
func (b *RedisBackend) Cleanup(ctx context.Context, ns quota.Namespace, before time.Time) (int, error) {
	keys, err := b.rdb.ZRangeByScore(ctx, b.indexKey(ns), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find expired records: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		if b.deletes != nil {
			if err := b.deletes.Wait(ctx); err != nil {
				return deleted, err
			}
		}

		ok, err := b.deleteIfExpired(ctx, ns, key, before)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (b *RedisBackend) deleteIfExpired(ctx context.Context, ns quota.Namespace, key string, before time.Time) (bool, error) {
	recordKey := b.recordKey(ns, key)
	deleted := false

	err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, recordKey).Result()
		if err != nil {
			return err
		}
		record, err := decodeRecord(ns, key, fields)
		if err != nil {
			return err
		}
		if record != nil && !record.WindowStart.Before(before) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey)
			pipe.ZRem(ctx, b.indexKey(ns), key)
			return nil
		})
		deleted = err == nil && record != nil
		return err
	}, recordKey)

	// A concurrent write means the record is in use.
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	return deleted, nil
}

// Ping reports whether Redis is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the client if NewRedisBackend created it.
func (b *RedisBackend) Close() error {
	if b.ownClient {
		return b.rdb.Close()
	}
	return nil
}

func (b *RedisBackend) write(ctx context.Context, pipe redis.Pipeliner, r *quota.Record) {
	pipe.HSet(ctx, b.recordKey(r.Namespace, r.Key),
		fieldWindowStart, r.WindowStart.UnixMilli(),
		fieldUsed, r.Used,
		fieldLimit, r.Limit,
		fieldLastRequest, r.LastRequest.UnixMilli(),
	)
	pipe.ZAdd(ctx, b.indexKey(r.Namespace), redis.Z{
		Score:  float64(r.WindowStart.UnixMilli()),
		Member: r.Key,
	})
}

func (b *RedisBackend) recordKey(ns quota.Namespace, key string) string {
	return b.prefix + ":" + string(ns) + ":" + key
}

func (b *RedisBackend) indexKey(ns quota.Namespace) string {
	return b.prefix + ":index:" + string(ns)
}

// decodeRecord converts a hash into a record. An empty hash yields (nil, nil).
func decodeRecord(ns quota.Namespace, key string, fields map[string]string) (*quota.Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	var values [4]int64
	for i, name := range []string{fieldWindowStart, fieldUsed, fieldLimit, fieldLastRequest} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s of %s:%s: %v", quota.ErrInvalidRecord, name, ns, key, err)
		}
		values[i] = v
	}

	return &quota.Record{
		Namespace:   ns,
		Key:         key,
		WindowStart: time.UnixMilli(values[0]),
		Used:        values[1],
		Limit:       values[2],
		LastRequest: time.UnixMilli(values[3]),
	}, nil
}
