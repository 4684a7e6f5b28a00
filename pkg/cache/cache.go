// Package cache is a small key/value cache with in-process, Redis and
// two-level backends. Every backend stores values JSON-encoded, so a value
// read back from memory decodes exactly like one read from Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrCacheMiss = errors.New("cache: miss")

// Service is the cache surface the application depends on.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern takes a glob such as "risk:*".
	DeleteByPattern(ctx context.Context, pattern string) error
	// TryLock is a non-blocking lease. Unlock only releases a lease taken
	// by the same cache instance.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Key joins prefix and parts with ':'.
func Key(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// Pattern matches every key under prefix.
func Pattern(prefix string) string { return prefix + ":*" }

func encode(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	return b, nil
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode: %w", err)
	}
	return nil
}

// newOwner identifies one cache instance as a lock holder.
func newOwner() string { return uuid.NewString() }
