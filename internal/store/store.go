// Package store defines the Record Store contract the ranking engine and the
// live session registry are written against. Backends live in the memory,
// sqlite, postgres and redis packages.
package store

import (
	"context"
	"time"

	"github.com/snake-arena/internal/domain"
)

// UserStore persists registered users.
type UserStore interface {
	// CreateUser inserts u. Duplicate usernames or emails fail with
	// domain.ErrUsernameTaken or domain.ErrEmailTaken.
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error)
}

// LeaderboardStore is the append-only score ledger.
type LeaderboardStore interface {
	// AppendEntry counts entries in e.Mode with a strictly greater score,
	// then inserts e. The returned rank is that count plus one.
	AppendEntry(ctx context.Context, e *domain.LeaderboardEntry) (int64, error)
	// TopEntries returns at most limit entries ordered by score descending,
	// earliest submission first among equal scores. An empty mode spans all
	// modes.
	TopEntries(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error)
	// BestScore returns the user's highest score in mode, or ok=false.
	BestScore(ctx context.Context, userID string, mode domain.GameMode) (score int64, ok bool, err error)
}

// SessionStore holds live sessions.
type SessionStore interface {
	// StartSession ends every playing session owned by s.UserID and inserts
	// s as one atomic unit. It returns the IDs of the superseded sessions.
	StartSession(ctx context.Context, s *domain.LiveSession) ([]string, error)
	GetSession(ctx context.Context, id string) (*domain.LiveSession, error)
	// UpdateSession applies fn to the current record while holding it
	// exclusively and persists the result with a fresh LastUpdate. If fn
	// returns an error nothing is written.
	UpdateSession(ctx context.Context, id string, fn func(*domain.LiveSession) error) (*domain.LiveSession, error)
	// AdjustViewers adds delta to the viewer count atomically, flooring at
	// zero.
	AdjustViewers(ctx context.Context, id string, delta int64) (*domain.LiveSession, error)
	// ListSessions returns sessions with the given status, most viewers first.
	ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.LiveSession, error)
	// EndIdleSessions ends playing sessions not updated since before and
	// returns how many were ended.
	EndIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

// Store bundles every collection a backend provides.
type Store interface {
	UserStore
	LeaderboardStore
	SessionStore
	Close() error
}
