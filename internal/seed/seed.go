// Package seed loads the demo accounts and leaderboard used in local runs.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

// DemoPassword is shared by every seeded account
const DemoPassword = "password123"

type demoUser struct {
	username string
	email    string
	age      time.Duration
}

type demoEntry struct {
	username string
	score    int64
	mode     domain.GameMode
	age      time.Duration
}

const day = 24 * time.Hour

var demoUsers = []demoUser{
	{username: "PixelMaster", email: "user1@example.com", age: 50 * day},
	{username: "SnakeKing", email: "user2@example.com", age: 40 * day},
	{username: "NeonViper", email: "user3@example.com", age: 30 * day},
}

var demoEntries = []demoEntry{
	{username: "NeonViper", score: 2450, mode: domain.ModeWalls, age: 7 * day},
	{username: "PixelMaster", score: 2100, mode: domain.ModeWalls, age: 6 * day},
	{username: "SnakeKing", score: 1890, mode: domain.ModePassThrough, age: 5 * day},
	{username: "NeonViper", score: 1750, mode: domain.ModePassThrough, age: 4 * day},
	{username: "PixelMaster", score: 1620, mode: domain.ModeWalls, age: 3 * day},
}

// Records is the part of the Record Store seeding writes to
type Records interface {
	store.UserStore
	store.LeaderboardStore
}

// Seeder writes the demo data set
type Seeder struct {
	records   Records
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewSeeder creates a new seeder
func NewSeeder(records Records, passwords *auth.PasswordService, logger *slog.Logger) *Seeder {
	return &Seeder{records: records, passwords: passwords, logger: logger}
}

// Run creates the demo users and their back-dated leaderboard entries. If
// the first demo user already exists the store is assumed seeded and nothing
// is written. It reports whether data was written.
func (s *Seeder) Run(ctx context.Context) (bool, error) {
	hash, err := s.passwords.Hash(DemoPassword)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	users := make(map[string]*domain.User, len(demoUsers))
	for i, du := range demoUsers {
		u := &domain.User{
			ID:           uuid.NewString(),
			Username:     du.username,
			Email:        du.email,
			PasswordHash: hash,
			CreatedAt:    now.Add(-du.age),
		}
		if err := s.records.CreateUser(ctx, u); err != nil {
			if i == 0 && errors.Is(err, domain.ErrConflict) {
				s.logger.Info("store already seeded, skipping")
				return false, nil
			}
			return false, fmt.Errorf("seeding user %s: %w", du.username, err)
		}
		users[du.username] = u
	}

	for _, de := range demoEntries {
		u := users[de.username]
		entry := &domain.LeaderboardEntry{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Username:  u.Username,
			Score:     de.score,
			Mode:      de.mode,
			Avatar:    u.Avatar,
			CreatedAt: now.Add(-de.age),
		}
		if _, err := s.records.AppendEntry(ctx, entry); err != nil {
			return false, fmt.Errorf("seeding entry for %s: %w", de.username, err)
		}
	}

	s.logger.Info("store seeded", "users", len(demoUsers), "entries", len(demoEntries))
	return true, nil
}
