package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/memory"
	"github.com/snake-arena/internal/service"
	"github.com/snake-arena/internal/websocket"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T, pinger Pinger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	st := memory.New()

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", "snake-arena", time.Minute)
	require.NoError(t, err)
	live := service.NewLiveService(st, st, logger)
	hub := websocket.NewHub(live, time.Second, logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	cfg := config.DefaultConfig()
	h := NewHandler(Dependencies{
		Auth:         service.NewAuthService(st, tokens, auth.NewPasswordService(bcrypt.MinCost), logger),
		Leaderboard:  service.NewLeaderboardService(st, st, hub, &cfg.Leaderboard, logger),
		Live:         live,
		Hub:          hub,
		Store:        pinger,
		StoreTimeout: cfg.Server.StoreTimeout,
	}, logger)

	return &testServer{t: t, router: h.Router()}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) signup(name string) domain.AuthResponse {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/auth/signup", "", domain.SignupRequest{
		Username: name,
		Email:    name + "@Example.com",
		Password: "hunter22",
	})
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	var resp domain.AuthResponse
	require.NoError(s.t, json.Unmarshal(env.Data, &resp))
	return resp
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)
	code, env := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, _ = s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, code)

	down := newTestServer(t, stubPinger{err: errors.New("connection refused")})
	code, env = down.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.signup("NeonViper")
	assert.Equal(t, "neonviper@example.com", resp.Email)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)

	code, _ := s.do(http.MethodPost, "/auth/signup", "", domain.SignupRequest{
		Username: "NeonViper", Email: "other@example.com", Password: "hunter22",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodPost, "/auth/signup", "", domain.SignupRequest{
		Username: "ab", Email: "ab@example.com", Password: "hunter22",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(http.MethodPost, "/auth/login", "", domain.LoginRequest{Email: "NEONVIPER@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, _ = s.do(http.MethodPost, "/auth/login", "", domain.LoginRequest{Email: "neonviper@example.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(http.MethodGet, "/auth/me", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "NeonViper", decodeData[domain.UserProfile](t, env).Username)

	code, _ = s.do(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(http.MethodGet, "/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(http.MethodPut, "/auth/me/avatar", resp.AccessToken, domain.AvatarRequest{Avatar: "🐍"})
	require.Equal(t, http.StatusOK, code)
	profile := decodeData[domain.UserProfile](t, env)
	require.NotNil(t, profile.Avatar)
	assert.Equal(t, "🐍", *profile.Avatar)

	code, _ = s.do(http.MethodPost, "/auth/logout", resp.AccessToken, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestLeaderboardEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	viper := s.signup("NeonViper")
	king := s.signup("SnakeKing")

	code, env := s.do(http.MethodPost, "/leaderboard/submit", viper.AccessToken, map[string]any{"score": 2450, "mode": "walls"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, int64(1), decodeData[domain.RankedEntry](t, env).Rank)

	code, env = s.do(http.MethodPost, "/leaderboard/submit", king.AccessToken, map[string]any{"score": 1890, "mode": "walls"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, int64(2), decodeData[domain.RankedEntry](t, env).Rank)

	code, _ = s.do(http.MethodPost, "/leaderboard/submit", king.AccessToken, map[string]any{"score": -1, "mode": "walls"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodPost, "/leaderboard/submit", king.AccessToken, map[string]any{"score": 10, "mode": "classic"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodPost, "/leaderboard/submit", "", map[string]any{"score": 10, "mode": "walls"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(http.MethodGet, "/leaderboard?mode=walls&limit=1", "", nil)
	require.Equal(t, http.StatusOK, code)
	entries := decodeData[[]domain.RankedEntry](t, env)
	require.Len(t, entries, 1)
	assert.Equal(t, "NeonViper", entries[0].Username)

	code, env = s.do(http.MethodGet, "/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]domain.RankedEntry](t, env), 2)

	code, _ = s.do(http.MethodGet, "/leaderboard?mode=classic", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodGet, "/leaderboard/best?mode=walls", king.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1890), decodeData[map[string]any](t, env)["score"])

	code, env = s.do(http.MethodGet, "/leaderboard/best?mode=pass-through", king.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, decodeData[map[string]any](t, env)["score"])
}

func TestLiveEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	owner := s.signup("PixelMaster")
	other := s.signup("SnakeKing")

	code, env := s.do(http.MethodPost, "/live/sessions", owner.AccessToken, domain.StartSessionRequest{Mode: domain.ModeWalls})
	require.Equal(t, http.StatusCreated, code, env.Error)
	started := decodeData[domain.LivePlayer](t, env)
	assert.Equal(t, domain.StatusPlaying, started.Status)
	assert.JSONEq(t, `"RIGHT"`, string(started.Direction))

	sessionPath := "/live/sessions/" + started.ID
	update := domain.SessionUpdate{Score: 40, GameState: json.RawMessage(`{"snake":[{"x":1,"y":1}],"food":{"x":2,"y":2},"direction":"UP"}`)}

	code, _ = s.do(http.MethodPut, sessionPath, other.AccessToken, update)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodPut, sessionPath, "", update)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(http.MethodPut, sessionPath, owner.AccessToken, update)
	require.Equal(t, http.StatusOK, code, env.Error)
	updated := decodeData[domain.LivePlayer](t, env)
	assert.Equal(t, int64(40), updated.Score)
	assert.JSONEq(t, `"UP"`, string(updated.Direction))

	code, env = s.do(http.MethodPost, sessionPath+"/viewers", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), decodeData[domain.LivePlayer](t, env).Viewers)

	code, env = s.do(http.MethodGet, "/live/players", "", nil)
	require.Equal(t, http.StatusOK, code)
	players := decodeData[[]domain.LivePlayer](t, env)
	require.Len(t, players, 1)
	assert.Equal(t, "PixelMaster", players[0].Username)

	code, env = s.do(http.MethodDelete, sessionPath+"/viewers", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), decodeData[domain.LivePlayer](t, env).Viewers)
	code, env = s.do(http.MethodDelete, sessionPath+"/viewers", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), decodeData[domain.LivePlayer](t, env).Viewers)

	code, _ = s.do(http.MethodPost, sessionPath+"/end", other.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	for range 2 {
		code, env = s.do(http.MethodPost, sessionPath+"/end", owner.AccessToken, nil)
		require.Equal(t, http.StatusOK, code, env.Error)
		assert.Equal(t, domain.StatusEnded, decodeData[domain.LivePlayer](t, env).Status)
	}

	code, env = s.do(http.MethodGet, "/live/players", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeData[[]domain.LivePlayer](t, env))

	code, env = s.do(http.MethodGet, "/live/players?status=ended", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]domain.LivePlayer](t, env), 1)

	code, _ = s.do(http.MethodGet, "/live/players/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPost, "/live/sessions/missing/viewers", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPost, "/live/sessions", owner.AccessToken, domain.StartSessionRequest{Mode: "classic"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNegativeScore, http.StatusBadRequest},
		{domain.ErrScoreTooLarge, http.StatusBadRequest},
		{domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{domain.ErrNotSessionOwner, http.StatusForbidden},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrEmailTaken, http.StatusConflict},
		{domain.Unavailable("reading", errors.New("timeout")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
