package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// redisTraceKey is the list holding serialized trace records
	redisTraceKey = "rcc:traces"
	// redisMaxRecords bounds the list length
	redisMaxRecords = 10000
)

// RedisStore persists trace records in a capped Redis list so traces
// survive gateway restarts and can be inspected by external tooling.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore connects to Redis and verifies reachability
func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, retention: retention}, nil
}

// Append pushes one record and trims the list to its cap
func (s *RedisStore) Append(ctx context.Context, record *TraceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, redisTraceKey, data)
	pipe.LTrim(ctx, redisTraceKey, 0, redisMaxRecords-1)
	if s.retention > 0 {
		pipe.Expire(ctx, redisTraceKey, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store trace record: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first
func (s *RedisStore) Recent(ctx context.Context, n int) ([]*TraceRecord, error) {
	raw, err := s.client.LRange(ctx, redisTraceKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read trace records: %w", err)
	}
	out := make([]*TraceRecord, 0, len(raw))
	for _, item := range raw {
		var record TraceRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue // skip records written by incompatible versions
		}
		out = append(out, &record)
	}
	return out, nil
}

// Close releases the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
