// Package redis implements the Record Store on Redis. Multi-key mutations run
// as Lua scripts so each one is applied atomically by the server.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store provides Redis-based record storage
type Store struct {
	client       *redis.Client
	maxTxRetries int
	logger       *slog.Logger
}

// NewStore creates a new Redis store and verifies the connection
func NewStore(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	retries := cfg.MaxTxRetries
	if retries <= 0 {
		retries = 1
	}
	return &Store{
		client:       client,
		maxTxRetries: retries,
		logger:       logger,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func userKey(id string) string { return "user:" + id }
func userEmailKey(email string) string { return "user:email:" + email }
func userNameKey(username string) string { return "user:name:" + username }

// leaderboardKey returns the sorted set ranking entries of one mode, or of
// every mode when mode is empty
func leaderboardKey(mode domain.GameMode) string {
	if mode == "" {
		return "leaderboard:all"
	}
	return fmt.Sprintf("leaderboard:%s", mode)
}

func entryKey(id string) string { return "leaderboard:entry:" + id }

func bestKey(mode domain.GameMode) string { return fmt.Sprintf("leaderboard:best:%s", mode) }

// sessionKeyPrefix is repeated inside the session scripts.
const sessionKeyPrefix = "live:session:"

func sessionKey(id string) string { return sessionKeyPrefix + id }

// sessionRevKey is bumped by every write to a session except viewer counts,
// so UpdateSession only conflicts with writers it could overwrite.
func sessionRevKey(id string) string { return sessionKey(id) + ":rev" }

func statusKey(status domain.SessionStatus) string { return fmt.Sprintf("live:status:%s", status) }

// ownerKey holds the IDs of a user's playing sessions
func ownerKey(userID string) string { return "live:owner:" + userID }

func micros(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMicro(), 10)
}

func parseMicros(v string) time.Time {
	us, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMicro(us).UTC()
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// pairs flattens a Lua HGETALL reply into a map
func pairs(reply []interface{}) map[string]string {
	m := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		m[k] = v
	}
	return m
}
