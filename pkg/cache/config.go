package cache

import "time"

type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	DialTimeout  time.Duration
	// Prefix namespaces every key, so several deployments can share a DB.
	Prefix string
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
		DialTimeout:  5 * time.Second,
		Prefix:       "marketguard",
	}
}

// WithRedisAddr sets "host:port". Empty keeps the default.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		if addr != "" {
			c.Addr = addr
		}
	}
}

func WithRedisPassword(pw string) RedisOption {
	return func(c *RedisConfig) { c.Password = pw }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPool sizes the connection pool. Zero values keep defaults.
func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.PoolSize = size
		}
		if minIdle > 0 {
			c.MinIdleConns = minIdle
		}
		if timeout > 0 {
			c.PoolTimeout = timeout
		}
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxEntries int
	sweepEvery time.Duration
}

// WithMemoryMaxSize bounds the entry count; the least recently used entry
// is evicted first.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMemoryCleanup sets how often expired entries are swept.
func WithMemoryCleanup(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

type LayeredOption func(*LayeredCache)

// WithLayeredMemorySize bounds the in-process layer.
func WithLayeredMemorySize(n int) LayeredOption {
	return func(l *LayeredCache) { l.l1Size = n }
}

// WithLayeredMemoryTTL bounds how long an in-process entry may shadow Redis.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(l *LayeredCache) {
		if ttl > 0 {
			l.l1TTL = ttl
		}
	}
}
