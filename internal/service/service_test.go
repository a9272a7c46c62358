package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []domain.RankedEntry
}

func (n *recordingNotifier) NotifyScore(e domain.RankedEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, e)
}

func addUser(t *testing.T, st *memory.Store, name, avatar string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Avatar:       avatar,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func newLeaderboard(t *testing.T) (*LeaderboardService, *memory.Store, *recordingNotifier) {
	t.Helper()
	st := memory.New()
	n := &recordingNotifier{}
	cfg := config.DefaultConfig().Leaderboard
	return NewLeaderboardService(st, st, n, &cfg, testLogger()), st, n
}

func newLive(t *testing.T) (*LiveService, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewLiveService(st, st, testLogger()), st
}

func newAuth(t *testing.T) (*AuthService, *memory.Store) {
	t.Helper()
	st := memory.New()
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", "snake-arena", time.Minute)
	require.NoError(t, err)
	return NewAuthService(st, tokens, auth.NewPasswordService(bcrypt.MinCost), testLogger()), st
}
