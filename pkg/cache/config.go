package cache

import (
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOption adjusts the go-redis client options and the key namespace.
type RedisOption func(*redisSettings)

type redisSettings struct {
	host, port  string
	client      redis.Options
	prefix      string
	pingTimeout time.Duration
}

func defaultRedisSettings() *redisSettings {
	return &redisSettings{
		host: "localhost",
		port: "6379",
		client: redis.Options{
			PoolSize:     10,
			PoolTimeout:  30 * time.Second,
			MinIdleConns: 2,
		},
		prefix:      "clinicpulse",
		pingTimeout: 5 * time.Second,
	}
}

func (s *redisSettings) options() *redis.Options {
	o := s.client
	o.Addr = net.JoinHostPort(s.host, s.port)
	return &o
}

func WithRedisHost(host string) RedisOption {
	return func(s *redisSettings) { s.host = host }
}

func WithRedisPort(port int) RedisOption {
	return func(s *redisSettings) { s.port = strconv.Itoa(port) }
}

func WithRedisPassword(password string) RedisOption {
	return func(s *redisSettings) { s.client.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(s *redisSettings) { s.client.DB = db }
}

// WithRedisPool sets pool size, idle connections and the wait for a free
// one; zero values keep the defaults.
func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(s *redisSettings) {
		if size > 0 {
			s.client.PoolSize = size
		}
		if minIdle > 0 {
			s.client.MinIdleConns = minIdle
		}
		if timeout > 0 {
			s.client.PoolTimeout = timeout
		}
	}
}

// WithRedisPrefix namespaces every key as "<prefix>:<key>".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *redisSettings) { s.prefix = prefix }
}

type MemoryOption func(*memorySettings)

type memorySettings struct {
	maxSize    int
	defaultTTL time.Duration // applied when Set gets no expiration
	sweepEvery time.Duration
}

func WithMemoryMaxSize(n int) MemoryOption {
	return func(s *memorySettings) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(s *memorySettings) { s.defaultTTL = ttl }
}

type LayeredOption func(*layeredSettings)

type layeredSettings struct {
	l1Size int
	l1TTL  time.Duration // upper bound on how stale L1 may be
}

func WithLayeredMemorySize(n int) LayeredOption {
	return func(s *layeredSettings) {
		if n > 0 {
			s.l1Size = n
		}
	}
}

func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(s *layeredSettings) {
		if ttl > 0 {
			s.l1TTL = ttl
		}
	}
}
