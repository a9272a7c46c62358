// Package storetest is a behavioral suite every store.Store backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("AppendEntryRanks", func(t *testing.T) { testAppendEntryRanks(t, newStore(t)) })
	t.Run("TopEntries", func(t *testing.T) { testTopEntries(t, newStore(t)) })
	t.Run("BestScore", func(t *testing.T) { testBestScore(t, newStore(t)) })
	t.Run("StartSessionSupersedes", func(t *testing.T) { testStartSessionSupersedes(t, newStore(t)) })
	t.Run("ConcurrentStartSession", func(t *testing.T) { testConcurrentStartSession(t, newStore(t)) })
	t.Run("UpdateSession", func(t *testing.T) { testUpdateSession(t, newStore(t)) })
	t.Run("AdjustViewers", func(t *testing.T) { testAdjustViewers(t, newStore(t)) })
	t.Run("ConcurrentViewers", func(t *testing.T) { testConcurrentViewers(t, newStore(t)) })
	t.Run("UpdatesDuringViewerChurn", func(t *testing.T) { testUpdatesDuringViewerChurn(t, newStore(t)) })
	t.Run("ListSessions", func(t *testing.T) { testListSessions(t, newStore(t)) })
	t.Run("EndIdleSessions", func(t *testing.T) { testEndIdleSessions(t, newStore(t)) })
}

var base = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newUser(t *testing.T, s store.Store, name string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    base,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func newEntry(userID, name string, score int64, mode domain.GameMode, offset int) *domain.LeaderboardEntry {
	return &domain.LeaderboardEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  name,
		Score:     score,
		Mode:      mode,
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
}

func newSession(userID string, mode domain.GameMode) *domain.LiveSession {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.LiveSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		Username:   "player-" + userID[:8],
		Mode:       mode,
		Status:     domain.StatusPlaying,
		GameState:  domain.InitialSnapshot().Encode(),
		StartedAt:  now,
		LastUpdate: now,
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "PixelMaster")

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "PixelMaster", got.Username)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.CreatedAt.Equal(base))

	byEmail, err := s.GetUserByEmail(ctx, "PixelMaster@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	dupName := &domain.User{ID: uuid.NewString(), Username: "PixelMaster", Email: "other@example.com", CreatedAt: base}
	assert.ErrorIs(t, s.CreateUser(ctx, dupName), domain.ErrUsernameTaken)

	dupEmail := &domain.User{ID: uuid.NewString(), Username: "Other", Email: "PixelMaster@example.com", CreatedAt: base}
	assert.ErrorIs(t, s.CreateUser(ctx, dupEmail), domain.ErrEmailTaken)

	_, err = s.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated, err := s.UpdateAvatar(ctx, u.ID, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", updated.Avatar)
	assert.Equal(t, "PixelMaster", updated.Username)

	_, err = s.UpdateAvatar(ctx, uuid.NewString(), "x")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testAppendEntryRanks(t *testing.T, s store.Store) {
	ctx := context.Background()

	rank, err := s.AppendEntry(ctx, newEntry("u1", "U1", 2450, domain.ModeWalls, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	rank, err = s.AppendEntry(ctx, newEntry("u2", "U2", 2100, domain.ModeWalls, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	rank, err = s.AppendEntry(ctx, newEntry("u3", "U3", 1890, domain.ModePassThrough, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank, "modes rank independently")

	// Equal scores are not strictly greater.
	rank, err = s.AppendEntry(ctx, newEntry("u4", "U4", 2100, domain.ModeWalls, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	rank, err = s.AppendEntry(ctx, newEntry("u5", "U5", 3000, domain.ModeWalls, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	rank, err = s.AppendEntry(ctx, newEntry("u6", "U6", 0, domain.ModeWalls, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), rank)
}

func testTopEntries(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newEntry("u1", "U1", 2450, domain.ModeWalls, 0)
	first.Avatar = "https://cdn.example.com/u1.png"
	entries := []*domain.LeaderboardEntry{
		first,
		newEntry("u2", "U2", 2100, domain.ModeWalls, 1),
		newEntry("u3", "U3", 1890, domain.ModePassThrough, 2),
		newEntry("u4", "U4", 2100, domain.ModeWalls, 3),
		newEntry("u5", "U5", 1750, domain.ModePassThrough, 4),
	}
	for _, e := range entries {
		_, err := s.AppendEntry(ctx, e)
		require.NoError(t, err)
	}

	walls, err := s.TopEntries(ctx, domain.ModeWalls, 100)
	require.NoError(t, err)
	require.Len(t, walls, 3)
	assert.Equal(t, entries[0].ID, walls[0].ID)
	assert.Equal(t, entries[1].ID, walls[1].ID, "earlier submission wins a tie")
	assert.Equal(t, entries[3].ID, walls[2].ID)
	assert.Equal(t, "https://cdn.example.com/u1.png", walls[0].Avatar)
	assert.Equal(t, "u1", walls[0].UserID)
	assert.True(t, walls[0].CreatedAt.Equal(entries[0].CreatedAt))

	pass, err := s.TopEntries(ctx, domain.ModePassThrough, 100)
	require.NoError(t, err)
	require.Len(t, pass, 2)
	assert.Equal(t, int64(1890), pass[0].Score)
	assert.Equal(t, domain.ModePassThrough, pass[0].Mode)

	all, err := s.TopEntries(ctx, "", 100)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}

	limited, err := s.TopEntries(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(2450), limited[0].Score)

	unlimited, err := s.TopEntries(ctx, domain.ModeWalls, 0)
	require.NoError(t, err)
	assert.Len(t, unlimited, 3, "non-positive limit means no limit at the store")
}

func testBestScore(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, ok, err := s.BestScore(ctx, "u1", domain.ModeWalls)
	require.NoError(t, err)
	assert.False(t, ok)

	for i, score := range []int64{120, 980, 450} {
		_, err := s.AppendEntry(ctx, newEntry("u1", "U1", score, domain.ModeWalls, i))
		require.NoError(t, err)
	}
	_, err = s.AppendEntry(ctx, newEntry("u1", "U1", 5000, domain.ModePassThrough, 9))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, newEntry("u2", "U2", 7000, domain.ModeWalls, 10))
	require.NoError(t, err)

	best, ok, err := s.BestScore(ctx, "u1", domain.ModeWalls)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(980), best)

	best, ok, err = s.BestScore(ctx, "u1", domain.ModePassThrough)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5000), best)
}

func testStartSessionSupersedes(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()

	first := newSession(owner, domain.ModeWalls)
	superseded, err := s.StartSession(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, superseded)

	got, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, got.Status)
	assert.Equal(t, int64(0), got.Score)
	assert.Equal(t, string(first.GameState), string(got.GameState), "game state is stored verbatim")

	second := newSession(owner, domain.ModePassThrough)
	superseded, err = s.StartSession(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, superseded)

	old, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, old.Status)

	playing, err := s.ListSessions(ctx, domain.StatusPlaying)
	require.NoError(t, err)
	require.Len(t, playing, 1)
	assert.Equal(t, second.ID, playing[0].ID)
	assert.Equal(t, domain.ModePassThrough, playing[0].Mode)

	other := newSession(uuid.NewString(), domain.ModeWalls)
	superseded, err = s.StartSession(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, superseded, "other users are untouched")

	_, err = s.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testConcurrentStartSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()

	const starts = 8
	var wg sync.WaitGroup
	errs := make(chan error, starts)
	for range starts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.StartSession(ctx, newSession(owner, domain.ModeWalls))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	playing, err := s.ListSessions(ctx, domain.StatusPlaying)
	require.NoError(t, err)
	assert.Len(t, playing, 1)

	ended, err := s.ListSessions(ctx, domain.StatusEnded)
	require.NoError(t, err)
	assert.Len(t, ended, starts-1)
}

func testUpdateSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := newSession(uuid.NewString(), domain.ModeWalls)
	_, err := s.StartSession(ctx, sess)
	require.NoError(t, err)

	state := json.RawMessage(`{"snake":[{"x":11,"y":10},{"x":10,"y":10}],"food":{"x":3,"y":4},"direction":"UP"}`)
	updated, err := s.UpdateSession(ctx, sess.ID, func(ls *domain.LiveSession) error {
		ls.Score = 40
		ls.GameState = state
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), updated.Score)
	assert.Equal(t, string(state), string(updated.GameState))
	assert.False(t, updated.LastUpdate.Before(sess.LastUpdate))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Score)
	assert.Equal(t, string(state), string(got.GameState))

	boom := fmt.Errorf("rejected")
	_, err = s.UpdateSession(ctx, sess.ID, func(ls *domain.LiveSession) error {
		ls.Score = 9999
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Score, "failed mutation leaves the record untouched")

	ended, err := s.UpdateSession(ctx, sess.ID, func(ls *domain.LiveSession) error {
		ls.Status = domain.StatusEnded
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, ended.Status)

	playing, err := s.ListSessions(ctx, domain.StatusPlaying)
	require.NoError(t, err)
	assert.Empty(t, playing)

	_, err = s.UpdateSession(ctx, uuid.NewString(), func(*domain.LiveSession) error { return nil })
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testAdjustViewers(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := newSession(uuid.NewString(), domain.ModeWalls)
	_, err := s.StartSession(ctx, sess)
	require.NoError(t, err)

	got, err := s.AdjustViewers(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Viewers)

	got, err = s.AdjustViewers(ctx, sess.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Viewers)

	got, err = s.AdjustViewers(ctx, sess.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Viewers, "viewer count floors at zero")
	assert.Equal(t, sess.Username, got.Username)

	_, err = s.AdjustViewers(ctx, uuid.NewString(), 1)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testConcurrentViewers(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := newSession(uuid.NewString(), domain.ModeWalls)
	_, err := s.StartSession(ctx, sess)
	require.NoError(t, err)

	const joins = 40
	var wg sync.WaitGroup
	for range joins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustViewers(ctx, sess.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(joins), got.Viewers)

	for range joins + 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustViewers(ctx, sess.ID, -1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Viewers)
}

// Spectators joining and leaving must never make the owner's updates fail.
func testUpdatesDuringViewerChurn(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := newSession(uuid.NewString(), domain.ModeWalls)
	_, err := s.StartSession(ctx, sess)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_, err := s.AdjustViewers(ctx, sess.ID, 1)
				assert.NoError(t, err)
				_, err = s.AdjustViewers(ctx, sess.ID, -1)
				assert.NoError(t, err)
			}
		}()
	}

	const updates = 100
	failed := 0
	var firstErr error
	for i := 1; i <= updates; i++ {
		_, err := s.UpdateSession(ctx, sess.ID, func(ls *domain.LiveSession) error {
			ls.Score = int64(i)
			return nil
		})
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	close(done)
	wg.Wait()
	require.NoError(t, firstErr, "%d of %d updates failed", failed, updates)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(updates), got.Score)
	assert.Equal(t, int64(0), got.Viewers)
	assert.Equal(t, domain.StatusPlaying, got.Status)
}

func testListSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	viewers := []int64{2, 7, 0}
	ids := make([]string, len(viewers))
	for i, v := range viewers {
		sess := newSession(uuid.NewString(), domain.ModeWalls)
		_, err := s.StartSession(ctx, sess)
		require.NoError(t, err)
		_, err = s.AdjustViewers(ctx, sess.ID, v)
		require.NoError(t, err)
		ids[i] = sess.ID
	}

	playing, err := s.ListSessions(ctx, domain.StatusPlaying)
	require.NoError(t, err)
	require.Len(t, playing, 3)
	assert.Equal(t, ids[1], playing[0].ID)
	assert.Equal(t, ids[0], playing[1].ID)
	assert.Equal(t, ids[2], playing[2].ID)

	ended, err := s.ListSessions(ctx, domain.StatusEnded)
	require.NoError(t, err)
	assert.Empty(t, ended)
}

func testEndIdleSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := newSession(uuid.NewString(), domain.ModeWalls)
	_, err := s.StartSession(ctx, sess)
	require.NoError(t, err)

	n, err := s.EndIdleSessions(ctx, sess.LastUpdate.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.EndIdleSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, got.Status)

	playing, err := s.ListSessions(ctx, domain.StatusPlaying)
	require.NoError(t, err)
	assert.Empty(t, playing)
}
