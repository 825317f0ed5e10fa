// Package redisstore implements ratelimit.Store on Redis so several gateway
// instances share one set of counters.
//
// Each (policy, client) pair is a hash holding the window start in unix
// milliseconds and the hit count. A Lua script resets a stale window and
// increments it in one round trip, so concurrent hits from different
// instances never observe the same count. Keys expire one second after their
// window closes, which replaces the in-process sweep.
package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

const DefaultKeyPrefix = "finflow:ratelimit:"

// hitScript mirrors MemoryStore.Hit. The stale check is strict, a hit at
// exactly start+window still belongs to the old window.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
if start == nil or now - start > window then
  start = now
  redis.call('HSET', KEYS[1], 'start', start, 'count', 0)
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('PEXPIRE', KEYS[1], window + 1000)
return {start, count}
`)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// DialTimeout bounds the startup ping. Zero uses the go-redis default.
	DialTimeout time.Duration
}

type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ ratelimit.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, xerrors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	s := NewWithClient(client, cfg.KeyPrefix)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrapf(err, "connect redis %s", cfg.Addr)
	}
	return s, nil
}

// NewWithClient wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(policy, key string) string {
	return s.prefix + policy + ":" + key
}

func (s *Store) Hit(ctx context.Context, policy, key string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	vals, err := hitScript.Run(ctx, s.client,
		[]string{s.key(policy, key)},
		now.UnixMilli(), window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Window{}, xerrors.Wrapf(err, "redis hit %s", policy)
	}
	if len(vals) != 2 {
		return ratelimit.Window{}, xerrors.Newf("redis hit %s: unexpected reply length %d", policy, len(vals))
	}
	return ratelimit.Window{
		Start: time.UnixMilli(vals[0]),
		Count: int(vals[1]),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
