// Package service holds the ranking engine, the live session registry and the
// account operations built on top of the Record Store.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

// ScoreNotifier is told about every accepted submission
type ScoreNotifier interface {
	NotifyScore(entry domain.RankedEntry)
}

// LeaderboardService ranks and records finished games
type LeaderboardService struct {
	users    store.UserStore
	entries  store.LeaderboardStore
	notifier ScoreNotifier
	config   *config.LeaderboardConfig
	logger   *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service. notifier may be nil.
func NewLeaderboardService(
	users store.UserStore,
	entries store.LeaderboardStore,
	notifier ScoreNotifier,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		users:    users,
		entries:  entries,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// SubmitScore appends a score for a user and returns it with its rank at the
// moment of insertion. The rank is never recomputed afterwards.
func (s *LeaderboardService) SubmitScore(ctx context.Context, submission domain.ScoreSubmission) (*domain.RankedEntry, error) {
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, submission.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	// Username and avatar are a snapshot of the user right now.
	entry := &domain.LeaderboardEntry{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		Score:     submission.Score,
		Mode:      submission.Mode,
		Avatar:    user.Avatar,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	rank, err := s.entries.AppendEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("appending entry: %w", err)
	}

	ranked := entry.Ranked(rank)
	s.logger.Debug("score submitted",
		"user_id", user.ID,
		"mode", entry.Mode,
		"score", entry.Score,
		"rank", rank,
	)
	if s.notifier != nil {
		s.notifier.NotifyScore(ranked)
	}
	return &ranked, nil
}

// SubmitScoreBatch submits multiple scores and returns how many were
// accepted. A rejected submission does not stop the batch; a store outage
// does, so the caller can retry the remainder.
func (s *LeaderboardService) SubmitScoreBatch(ctx context.Context, batch domain.BatchScoreSubmission) (int, error) {
	accepted := 0
	for _, submission := range batch.Scores {
		if _, err := s.SubmitScore(ctx, submission); err != nil {
			if domain.IsUnavailable(err) {
				return accepted, err
			}
			s.logger.Warn("failed to submit score in batch",
				"user_id", submission.UserID,
				"mode", submission.Mode,
				"error", err,
			)
			// Continue processing other scores
			continue
		}
		accepted++
	}
	return accepted, nil
}

// GetLeaderboard returns the top entries, ranked by position. An empty mode
// spans every mode.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, mode domain.GameMode, limit int) ([]domain.RankedEntry, error) {
	if mode != "" && !mode.Valid() {
		return nil, domain.ErrInvalidMode
	}

	// Validate limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	entries, err := s.entries.TopEntries(ctx, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}

	ranked := make([]domain.RankedEntry, len(entries))
	for i, e := range entries {
		ranked[i] = e.Ranked(int64(i + 1))
	}
	return ranked, nil
}

// GetUserBestScore returns the user's highest score in a mode, or ok=false
// when the user has none
func (s *LeaderboardService) GetUserBestScore(ctx context.Context, userID string, mode domain.GameMode) (int64, bool, error) {
	if !mode.Valid() {
		return 0, false, domain.ErrInvalidMode
	}
	best, ok, err := s.entries.BestScore(ctx, userID, mode)
	if err != nil {
		return 0, false, fmt.Errorf("getting best score: %w", err)
	}
	return best, ok, nil
}
