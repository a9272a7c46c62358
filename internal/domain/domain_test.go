package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("pass-through")
	require.NoError(t, err)
	assert.Equal(t, ModePassThrough, m)

	_, err = ParseMode("classic")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRanked(t *testing.T) {
	e := LeaderboardEntry{
		ID:        "e1",
		Username:  "NeonViper",
		Score:     2450,
		Mode:      ModeWalls,
		CreatedAt: time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -3*3600)),
	}
	r := e.Ranked(4)
	assert.Equal(t, int64(4), r.Rank)
	assert.Equal(t, "2024-03-10", r.Date, "dates are reported in UTC")
	assert.Nil(t, r.Avatar)

	e.Avatar = "🐍"
	require.NotNil(t, e.Ranked(1).Avatar)
}

func TestProjectionPassesGameStateThrough(t *testing.T) {
	s := &LiveSession{
		ID:        "s1",
		Username:  "SnakeKing",
		Status:    StatusPlaying,
		GameState: json.RawMessage(`{"snake":[{"x":3,"y":4}],"food":{"x":1,"y":1},"direction":"LEFT","extra":true}`),
	}
	p := s.Projection()
	assert.JSONEq(t, `[{"x":3,"y":4}]`, string(p.Snake))
	assert.JSONEq(t, `"LEFT"`, string(p.Direction))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "extra")

	s.GameState = json.RawMessage(`not json`)
	p = s.Projection()
	assert.Nil(t, p.Snake)
	assert.Equal(t, "s1", p.ID)
}

func TestInitialSnapshot(t *testing.T) {
	var g GameSnapshot
	require.NoError(t, json.Unmarshal(InitialSnapshot().Encode(), &g))
	assert.Len(t, g.Snake, 3)
	assert.Equal(t, DirectionRight, g.Direction)
}

func TestCloneDoesNotShareState(t *testing.T) {
	s := &LiveSession{GameState: json.RawMessage(`{"a":1}`)}
	c := s.Clone()
	c.GameState[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(s.GameState))
}

func TestSignupRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  SignupRequest
		ok   bool
	}{
		{name: "valid", req: SignupRequest{Username: "  NeonViper ", Email: " User@Example.COM", Password: "secret"}, ok: true},
		{name: "short username", req: SignupRequest{Username: "ab", Email: "a@b.co", Password: "secret"}},
		{name: "long username", req: SignupRequest{Username: "abcdefghijklmnopqrstuvwxyz1234567", Email: "a@b.co", Password: "secret"}},
		{name: "bad email", req: SignupRequest{Username: "viper", Email: "nope", Password: "secret"}},
		{name: "short password", req: SignupRequest{Username: "viper", Email: "a@b.co", Password: "12345"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize()
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, "user@example.com", tt.req.Email)
				assert.Equal(t, "NeonViper", tt.req.Username)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestScoreSubmissionValidate(t *testing.T) {
	tests := []struct {
		name  string
		score int64
		want  error
	}{
		{"zero", 0, nil},
		{"max", MaxScore, nil},
		{"negative", -1, ErrNegativeScore},
		{"one past max", MaxScore + 1, ErrScoreTooLarge},
		{"int64 max", math.MaxInt64, ErrScoreTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ScoreSubmission{Score: tt.score, Mode: ModeWalls}.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsInvalidArgument(err))
		})
	}

	// float64 loses integers past MaxScore, which is why the cap exists.
	over := MaxScore + 1
	assert.Equal(t, float64(MaxScore), float64(over))
}

func TestErrorCategories(t *testing.T) {
	assert.True(t, IsNotFoundError(ErrSessionNotFound))
	assert.True(t, IsInvalidArgument(ErrNegativeScore))
	assert.ErrorIs(t, ErrNotSessionOwner, ErrForbidden)

	cause := errors.New("dial tcp: refused")
	err := Unavailable("reading session", cause)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
}
