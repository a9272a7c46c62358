package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/snake-arena/internal/domain"
)

// Sorted sets hold the negated score so that an ascending range yields the
// highest score first, with members (creation time, then ID) breaking ties
// in submission order.
//
// appendEntryScript counts strictly better entries in the mode, indexes the
// new entry and raises the user's best score when needed.
var appendEntryScript = redis.NewScript(`
local higher = redis.call('ZCOUNT', KEYS[1], '-inf', '(' .. ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], unpack(ARGV, 5))
local best = redis.call('HGET', KEYS[4], ARGV[3])
if not best or tonumber(best) < tonumber(ARGV[4]) then
	redis.call('HSET', KEYS[4], ARGV[3], ARGV[4])
end
return higher
`)

// entryMember orders equal scores by creation time, then by ID
func entryMember(e *domain.LeaderboardEntry) string {
	return fmt.Sprintf("%019d:%s", e.CreatedAt.UTC().UnixMicro(), e.ID)
}

func entryIDFromMember(member string) string {
	_, id, _ := strings.Cut(member, ":")
	return id
}

// AppendEntry ranks and stores a leaderboard entry atomically
func (s *Store) AppendEntry(ctx context.Context, e *domain.LeaderboardEntry) (int64, error) {
	keys := []string{leaderboardKey(e.Mode), leaderboardKey(""), entryKey(e.ID), bestKey(e.Mode)}
	higher, err := appendEntryScript.Run(ctx, s.client, keys,
		strconv.FormatInt(-e.Score, 10),
		entryMember(e),
		e.UserID,
		e.Score,
		"id", e.ID,
		"user_id", e.UserID,
		"username", e.Username,
		"score", e.Score,
		"mode", string(e.Mode),
		"avatar", e.Avatar,
		"created_at", micros(e.CreatedAt),
	).Int64()
	if err != nil {
		return 0, domain.Unavailable("appending entry", err)
	}
	return higher + 1, nil
}

// TopEntries returns the top entries from one mode or from all modes
func (s *Store) TopEntries(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := s.client.ZRange(ctx, leaderboardKey(mode), 0, stop).Result()
	if err != nil {
		return nil, domain.Unavailable("getting top entries", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	// Use pipeline to load every entry hash in one round trip
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.HGetAll(ctx, entryKey(entryIDFromMember(member)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.Unavailable("loading entries", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(cmds))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			ID:        m["id"],
			UserID:    m["user_id"],
			Username:  m["username"],
			Score:     parseInt(m["score"]),
			Mode:      domain.GameMode(m["mode"]),
			Avatar:    m["avatar"],
			CreatedAt: parseMicros(m["created_at"]),
		})
	}
	return entries, nil
}

// BestScore reads the user's best score in a mode
func (s *Store) BestScore(ctx context.Context, userID string, mode domain.GameMode) (int64, bool, error) {
	best, err := s.client.HGet(ctx, bestKey(mode), userID).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, domain.Unavailable("getting best score", err)
	}
	return best, true, nil
}
