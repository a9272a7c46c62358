// Package memory is an in-process Record Store. It keeps the same atomicity
// guarantees as the durable backends and is used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

var _ store.Store = (*Store)(nil)

type sessionRecord struct {
	mu      sync.Mutex
	session *domain.LiveSession
}

// Store keeps every collection in maps. mu guards the maps themselves; each
// session record has its own lock so mutations of different sessions never
// wait on each other.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	byEmail  map[string]string
	byName   map[string]string
	sessions map[string]*sessionRecord
	byOwner  map[string][]string

	entriesMu sync.RWMutex
	entries   []domain.LeaderboardEntry
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		byName:   make(map[string]string),
		sessions: make(map[string]*sessionRecord),
		byOwner:  make(map[string][]string),
	}
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// CreateUser stores a new user
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[u.Username]; ok {
		return domain.ErrUsernameTaken
	}
	if _, ok := s.byEmail[u.Email]; ok {
		return domain.ErrEmailTaken
	}
	c := *u
	s.users[u.ID] = &c
	s.byName[u.Username] = u.ID
	s.byEmail[u.Email] = u.ID
	return nil
}

// GetUser looks a user up by ID
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByEmail looks a user up by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *s.users[id]
	return &c, nil
}

// UpdateAvatar replaces the user's avatar reference
func (s *Store) UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u.Avatar = avatar
	c := *u
	return &c, nil
}

// AppendEntry ranks and appends a leaderboard entry under one lock
func (s *Store) AppendEntry(ctx context.Context, e *domain.LeaderboardEntry) (int64, error) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()

	var higher int64
	for _, existing := range s.entries {
		if existing.Mode == e.Mode && existing.Score > e.Score {
			higher++
		}
	}
	s.entries = append(s.entries, *e)
	return higher + 1, nil
}

// TopEntries returns the highest scores, optionally within one mode
func (s *Store) TopEntries(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	s.entriesMu.RLock()
	matched := make([]domain.LeaderboardEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if mode == "" || e.Mode == mode {
			matched = append(matched, e)
		}
	}
	s.entriesMu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// BestScore returns the user's highest score in a mode
func (s *Store) BestScore(ctx context.Context, userID string, mode domain.GameMode) (int64, bool, error) {
	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()

	var best int64
	found := false
	for _, e := range s.entries {
		if e.UserID != userID || e.Mode != mode {
			continue
		}
		if !found || e.Score > best {
			best = e.Score
			found = true
		}
	}
	return best, found, nil
}

// StartSession supersedes the owner's playing sessions and inserts s while
// holding the map lock, so no reader observes the intermediate state.
func (s *Store) StartSession(ctx context.Context, sess *domain.LiveSession) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var superseded []string
	for _, id := range s.byOwner[sess.UserID] {
		rec := s.sessions[id]
		rec.mu.Lock()
		if rec.session.Status == domain.StatusPlaying {
			rec.session.Status = domain.StatusEnded
			rec.session.LastUpdate = now
			superseded = append(superseded, id)
		}
		rec.mu.Unlock()
	}

	s.sessions[sess.ID] = &sessionRecord{session: sess.Clone()}
	s.byOwner[sess.UserID] = append(s.byOwner[sess.UserID], sess.ID)
	return superseded, nil
}

func (s *Store) record(id string) (*sessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec, nil
}

// GetSession returns a copy of a session
func (s *Store) GetSession(ctx context.Context, id string) (*domain.LiveSession, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session.Clone(), nil
}

// UpdateSession mutates a session under its record lock
func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*domain.LiveSession) error) (*domain.LiveSession, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	next := rec.session.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.LastUpdate = time.Now().UTC()
	rec.session = next
	return next.Clone(), nil
}

// AdjustViewers adds delta to the viewer count, flooring at zero
func (s *Store) AdjustViewers(ctx context.Context, id string, delta int64) (*domain.LiveSession, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.session.Viewers = max(rec.session.Viewers+delta, 0)
	rec.session.LastUpdate = time.Now().UTC()
	return rec.session.Clone(), nil
}

// ListSessions returns sessions with the given status, most watched first
func (s *Store) ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.LiveSession, error) {
	s.mu.RLock()
	out := make([]domain.LiveSession, 0, len(s.sessions))
	for _, rec := range s.sessions {
		rec.mu.Lock()
		if rec.session.Status == status {
			out = append(out, *rec.session.Clone())
		}
		rec.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Viewers != out[j].Viewers {
			return out[i].Viewers > out[j].Viewers
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// EndIdleSessions ends playing sessions whose last update predates before
func (s *Store) EndIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var ended int64
	for _, rec := range s.sessions {
		rec.mu.Lock()
		if rec.session.Status == domain.StatusPlaying && rec.session.LastUpdate.Before(before) {
			rec.session.Status = domain.StatusEnded
			rec.session.LastUpdate = now
			ended++
		}
		rec.mu.Unlock()
	}
	return ended, nil
}
