package domain

import (
	"time"
)

// GameMode is a ruleset partition. Leaderboards and live sessions are
// segmented by mode.
type GameMode string

const (
	ModeWalls       GameMode = "walls"
	ModePassThrough GameMode = "pass-through"
)

// Modes lists every recognized game mode.
var Modes = []GameMode{ModeWalls, ModePassThrough}

// Valid reports whether m is a recognized mode.
func (m GameMode) Valid() bool {
	switch m {
	case ModeWalls, ModePassThrough:
		return true
	}
	return false
}

// ParseMode converts external input into a GameMode.
func ParseMode(s string) (GameMode, error) {
	m := GameMode(s)
	if !m.Valid() {
		return "", ErrInvalidMode
	}
	return m, nil
}

// dateLayout is the day-granular format used when entries leave the service.
const dateLayout = "2006-01-02"

// LeaderboardEntry is one row of the append-only score ledger.
//
// Username and Avatar are copied from the user at submission time and are
// never refreshed afterwards: a rename does not rewrite history.
type LeaderboardEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Score     int64     `json:"score"`
	Mode      GameMode  `json:"mode"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RankedEntry is the external projection of a leaderboard entry. Rank is
// derived per request and is never persisted.
type RankedEntry struct {
	ID       string   `json:"id"`
	Rank     int64    `json:"rank"`
	Username string   `json:"username"`
	Score    int64    `json:"score"`
	Mode     GameMode `json:"mode"`
	Date     string   `json:"date"`
	Avatar   *string  `json:"avatar"`
}

// Ranked projects the entry with the given rank.
func (e LeaderboardEntry) Ranked(rank int64) RankedEntry {
	r := RankedEntry{
		ID:       e.ID,
		Rank:     rank,
		Username: e.Username,
		Score:    e.Score,
		Mode:     e.Mode,
		Date:     e.CreatedAt.UTC().Format(dateLayout),
	}
	if e.Avatar != "" {
		avatar := e.Avatar
		r.Avatar = &avatar
	}
	return r
}

// MaxScore is the largest score every backend ranks exactly. Redis sorted
// set scores are float64, which hold integers exactly only up to 2^53.
const MaxScore int64 = 1 << 53

// ValidateScore rejects scores outside [0, MaxScore].
func ValidateScore(score int64) error {
	switch {
	case score < 0:
		return ErrNegativeScore
	case score > MaxScore:
		return ErrScoreTooLarge
	}
	return nil
}

// ScoreSubmission represents a request to submit a finished game's score
type ScoreSubmission struct {
	UserID string   `json:"user_id"`
	Score  int64    `json:"score"`
	Mode   GameMode `json:"mode"`
}

// Validate rejects submissions that must not reach the store.
func (s ScoreSubmission) Validate() error {
	if err := ValidateScore(s.Score); err != nil {
		return err
	}
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	return nil
}

// BatchScoreSubmission represents multiple score submissions
type BatchScoreSubmission struct {
	Scores []ScoreSubmission `json:"scores"`
}
