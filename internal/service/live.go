package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

var errAlreadyEnded = errors.New("session already ended")

// LiveService manages spectatable game sessions
type LiveService struct {
	users    store.UserStore
	sessions store.SessionStore
	logger   *slog.Logger
}

// NewLiveService creates a new live session registry
func NewLiveService(users store.UserStore, sessions store.SessionStore, logger *slog.Logger) *LiveService {
	return &LiveService{
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
}

// StartSession ends the user's playing session, if any, and starts a fresh
// one from the initial snapshot
func (s *LiveService) StartSession(ctx context.Context, userID string, mode domain.GameMode) (*domain.LiveSession, error) {
	if !mode.Valid() {
		return nil, domain.ErrInvalidMode
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	session := &domain.LiveSession{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Username:   user.Username,
		Mode:       mode,
		Status:     domain.StatusPlaying,
		GameState:  domain.InitialSnapshot().Encode(),
		Avatar:     user.Avatar,
		StartedAt:  now,
		LastUpdate: now,
	}

	superseded, err := s.sessions.StartSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	if len(superseded) > 0 {
		s.logger.Info("superseded live sessions",
			"user_id", user.ID,
			"session_id", session.ID,
			"superseded", superseded,
		)
	}
	return session, nil
}

// UpdateSession overwrites the score and game state. Scores may go down;
// only values outside [0, MaxScore] are rejected. An empty game state keeps the stored
// one.
func (s *LiveService) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) (*domain.LiveSession, error) {
	if err := domain.ValidateScore(update.Score); err != nil {
		return nil, err
	}

	session, err := s.sessions.UpdateSession(ctx, sessionID, func(ls *domain.LiveSession) error {
		ls.Score = update.Score
		if len(update.GameState) > 0 {
			ls.GameState = update.GameState
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	return session, nil
}

// EndSession moves a session to ended. Ending an ended session changes
// nothing and returns it as stored.
func (s *LiveService) EndSession(ctx context.Context, sessionID string) (*domain.LiveSession, error) {
	session, err := s.sessions.UpdateSession(ctx, sessionID, func(ls *domain.LiveSession) error {
		if ls.Status == domain.StatusEnded {
			return errAlreadyEnded
		}
		ls.Status = domain.StatusEnded
		return nil
	})
	if errors.Is(err, errAlreadyEnded) {
		return s.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}

	s.logger.Info("live session ended", "session_id", sessionID, "user_id", session.UserID)
	return session, nil
}

// ListSessions returns sessions in the given status, most watched first. An
// empty status means playing.
func (s *LiveService) ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.LiveSession, error) {
	if status == "" {
		status = domain.StatusPlaying
	}
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	sessions, err := s.sessions.ListSessions(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns a session by ID
func (s *LiveService) GetSession(ctx context.Context, sessionID string) (*domain.LiveSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return session, nil
}

// AuthorizeOwner fails unless userID owns the session. Ownership never
// changes, so the check does not need to be atomic with a later mutation.
func (s *LiveService) AuthorizeOwner(ctx context.Context, sessionID, userID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return domain.ErrNotSessionOwner
	}
	return nil
}

// IncrementViewers registers a spectator joining
func (s *LiveService) IncrementViewers(ctx context.Context, sessionID string) (*domain.LiveSession, error) {
	session, err := s.sessions.AdjustViewers(ctx, sessionID, 1)
	if err != nil {
		return nil, fmt.Errorf("incrementing viewers: %w", err)
	}
	return session, nil
}

// DecrementViewers registers a spectator leaving. The count never drops
// below zero.
func (s *LiveService) DecrementViewers(ctx context.Context, sessionID string) (*domain.LiveSession, error) {
	session, err := s.sessions.AdjustViewers(ctx, sessionID, -1)
	if err != nil {
		return nil, fmt.Errorf("decrementing viewers: %w", err)
	}
	return session, nil
}

// EndIdleSessions ends playing sessions that have not been updated within
// idle
func (s *LiveService) EndIdleSessions(ctx context.Context, idle time.Duration) (int64, error) {
	n, err := s.sessions.EndIdleSessions(ctx, time.Now().Add(-idle))
	if err != nil {
		return 0, fmt.Errorf("ending idle sessions: %w", err)
	}
	return n, nil
}
