package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snake-arena/internal/domain"
)

// startSessionScript ends every session in the owner's playing set, then
// stores the new session as the owner's only playing one. It returns the IDs
// it ended.
var startSessionScript = redis.NewScript(`
local ended = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ended) do
	redis.call('HSET', '` + sessionKeyPrefix + `' .. id, 'status', 'ended', 'last_update', ARGV[2])
	redis.call('SMOVE', KEYS[2], KEYS[3], id)
	redis.call('INCR', '` + sessionKeyPrefix + `' .. id .. ':rev')
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[4], unpack(ARGV, 3))
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[1], ARGV[1])
return ended
`)

var adjustViewersScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {} end
local viewers = redis.call('HINCRBY', KEYS[1], 'viewers', ARGV[1])
if viewers < 0 then
	redis.call('HSET', KEYS[1], 'viewers', 0)
end
redis.call('HSET', KEYS[1], 'last_update', ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

// endIdleScript ends one session if it is still playing and idle since
// ARGV[1]. The check and the write happen in the same script so a
// concurrent update cannot be lost.
var endIdleScript = redis.NewScript(`
local s = redis.call('HMGET', KEYS[1], 'status', 'last_update', 'user_id', 'id')
if s[1] ~= 'playing' or tonumber(s[2]) >= tonumber(ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'status', 'ended', 'last_update', ARGV[2])
redis.call('SMOVE', KEYS[2], KEYS[3], s[4])
redis.call('SREM', 'live:owner:' .. s[3], s[4])
redis.call('INCR', KEYS[4])
return 1
`)

func sessionFields(ls *domain.LiveSession) []interface{} {
	return []interface{}{
		"id", ls.ID,
		"user_id", ls.UserID,
		"username", ls.Username,
		"score", ls.Score,
		"mode", string(ls.Mode),
		"status", string(ls.Status),
		"viewers", ls.Viewers,
		"game_state", string(ls.GameState),
		"avatar", ls.Avatar,
		"started_at", micros(ls.StartedAt),
		"last_update", micros(ls.LastUpdate),
	}
}

func sessionFromHash(m map[string]string) *domain.LiveSession {
	ls := &domain.LiveSession{
		ID:         m["id"],
		UserID:     m["user_id"],
		Username:   m["username"],
		Score:      parseInt(m["score"]),
		Mode:       domain.GameMode(m["mode"]),
		Status:     domain.SessionStatus(m["status"]),
		Viewers:    parseInt(m["viewers"]),
		Avatar:     m["avatar"],
		StartedAt:  parseMicros(m["started_at"]),
		LastUpdate: parseMicros(m["last_update"]),
	}
	if state := m["game_state"]; state != "" {
		ls.GameState = []byte(state)
	}
	return ls
}

// StartSession supersedes the owner's playing sessions and stores ls
func (s *Store) StartSession(ctx context.Context, ls *domain.LiveSession) ([]string, error) {
	keys := []string{
		ownerKey(ls.UserID),
		statusKey(domain.StatusPlaying),
		statusKey(domain.StatusEnded),
		sessionKey(ls.ID),
	}
	args := append([]interface{}{ls.ID, micros(time.Now())}, sessionFields(ls)...)
	ended, err := startSessionScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return nil, domain.Unavailable("starting session", err)
	}
	if len(ended) == 0 {
		return nil, nil
	}
	return ended, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*domain.LiveSession, error) {
	m, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, domain.Unavailable("getting session", err)
	}
	if len(m) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return sessionFromHash(m), nil
}

// UpdateSession applies fn under WATCH of the session revision and retries
// when another writer changed the session first. Viewer counts do not bump
// the revision and are never written here.
func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*domain.LiveSession) error) (*domain.LiveSession, error) {
	key := sessionKey(id)
	revKey := sessionRevKey(id)
	var (
		updated *domain.LiveSession
		fnErr   error
	)

	txf := func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return domain.Unavailable("loading session", err)
		}
		if len(m) == 0 {
			return domain.ErrSessionNotFound
		}
		current := sessionFromHash(m)
		next := current.Clone()
		if err := fn(next); err != nil {
			fnErr = err
			return err
		}
		next.LastUpdate = time.Now().UTC().Truncate(time.Microsecond)

		// Commits only if the revision is unchanged since WATCH
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, revKey)
			pipe.HSet(ctx, key,
				"score", next.Score,
				"status", string(next.Status),
				"game_state", string(next.GameState),
				"last_update", micros(next.LastUpdate),
			)
			if next.Status != current.Status {
				pipe.SMove(ctx, statusKey(current.Status), statusKey(next.Status), id)
				if next.Status == domain.StatusEnded {
					pipe.SRem(ctx, ownerKey(next.UserID), id)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for range s.maxTxRetries {
		fnErr = nil
		err := s.client.Watch(ctx, txf, revKey)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case fnErr != nil, errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnavailable):
			return nil, err
		default:
			return nil, domain.Unavailable("updating session", err)
		}
	}
	return nil, domain.Unavailable("updating session", errors.New("too many concurrent updates"))
}

// AdjustViewers changes the viewer count atomically, flooring at zero
func (s *Store) AdjustViewers(ctx context.Context, id string, delta int64) (*domain.LiveSession, error) {
	reply, err := adjustViewersScript.Run(ctx, s.client, []string{sessionKey(id)}, delta, micros(time.Now())).Slice()
	if err != nil {
		return nil, domain.Unavailable("adjusting viewers", err)
	}
	if len(reply) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return sessionFromHash(pairs(reply)), nil
}

// ListSessions loads every session in the status set, most watched first
func (s *Store) ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.LiveSession, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, domain.Unavailable("listing sessions", err)
	}

	sessions := make([]domain.LiveSession, 0, len(ids))
	if len(ids) == 0 {
		return sessions, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.Unavailable("loading sessions", err)
	}

	for _, cmd := range cmds {
		m := cmd.Val()
		// The set is a secondary index; the hash is authoritative.
		if len(m) == 0 || m["status"] != string(status) {
			continue
		}
		sessions = append(sessions, *sessionFromHash(m))
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Viewers != sessions[j].Viewers {
			return sessions[i].Viewers > sessions[j].Viewers
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

// EndIdleSessions ends playing sessions last updated before the cutoff
func (s *Store) EndIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, statusKey(domain.StatusPlaying)).Result()
	if err != nil {
		return 0, domain.Unavailable("listing playing sessions", err)
	}

	now := micros(time.Now())
	var ended int64
	for _, id := range ids {
		keys := []string{
			sessionKey(id),
			statusKey(domain.StatusPlaying),
			statusKey(domain.StatusEnded),
			sessionRevKey(id),
		}
		n, err := endIdleScript.Run(ctx, s.client, keys, micros(before), now).Int64()
		if err != nil {
			return ended, domain.Unavailable("ending idle session", err)
		}
		ended += n
	}
	return ended, nil
}
