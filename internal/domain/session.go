package domain

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a live session. Ended is terminal.
type SessionStatus string

const (
	StatusPlaying SessionStatus = "playing"
	StatusEnded   SessionStatus = "ended"
)

// Valid reports whether s is a recognized status.
func (s SessionStatus) Valid() bool {
	return s == StatusPlaying || s == StatusEnded
}

// Direction is the snake's heading.
type Direction string

const (
	DirectionUp    Direction = "UP"
	DirectionDown  Direction = "DOWN"
	DirectionLeft  Direction = "LEFT"
	DirectionRight Direction = "RIGHT"
)

// Position is a grid cell.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// GameSnapshot is the structured form of a session's game state. The
// registry only builds it for brand new sessions; afterwards the state is
// carried as an opaque blob.
type GameSnapshot struct {
	Snake     []Position `json:"snake"`
	Food      Position   `json:"food"`
	Direction Direction  `json:"direction"`
}

// InitialSnapshot is the state every new session starts from: a 3-segment
// snake heading right with food down-right of it.
func InitialSnapshot() GameSnapshot {
	return GameSnapshot{
		Snake:     []Position{{X: 10, Y: 10}, {X: 9, Y: 10}, {X: 8, Y: 10}},
		Food:      Position{X: 15, Y: 15},
		Direction: DirectionRight,
	}
}

// Encode serializes the snapshot into the blob stored on a session.
func (g GameSnapshot) Encode() json.RawMessage {
	data, err := json.Marshal(g)
	if err != nil {
		// Only plain ints and strings; Marshal cannot fail.
		panic(err)
	}
	return data
}

// LiveSession is a spectatable game instance.
type LiveSession struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	Score      int64           `json:"score"`
	Mode       GameMode        `json:"mode"`
	Status     SessionStatus   `json:"status"`
	Viewers    int64           `json:"viewers"`
	GameState  json.RawMessage `json:"game_state"`
	Avatar     string          `json:"avatar,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	LastUpdate time.Time       `json:"last_update"`
}

// Clone returns a deep copy so callers never share the state blob.
func (s *LiveSession) Clone() *LiveSession {
	c := *s
	if s.GameState != nil {
		c.GameState = append(json.RawMessage(nil), s.GameState...)
	}
	return &c
}

// LivePlayer is the external projection of a live session: session fields
// plus the top-level keys of the game state, passed through verbatim.
type LivePlayer struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Avatar    *string         `json:"avatar"`
	Score     int64           `json:"score"`
	Mode      GameMode        `json:"mode"`
	Status    SessionStatus   `json:"status"`
	Viewers   int64           `json:"viewers"`
	Snake     json.RawMessage `json:"snake,omitempty"`
	Food      json.RawMessage `json:"food,omitempty"`
	Direction json.RawMessage `json:"direction,omitempty"`
}

// Projection flattens the session for spectators.
func (s *LiveSession) Projection() LivePlayer {
	p := LivePlayer{
		ID:       s.ID,
		Username: s.Username,
		Score:    s.Score,
		Mode:     s.Mode,
		Status:   s.Status,
		Viewers:  s.Viewers,
	}
	if s.Avatar != "" {
		avatar := s.Avatar
		p.Avatar = &avatar
	}

	var state struct {
		Snake     json.RawMessage `json:"snake"`
		Food      json.RawMessage `json:"food"`
		Direction json.RawMessage `json:"direction"`
	}
	if len(s.GameState) > 0 && json.Unmarshal(s.GameState, &state) == nil {
		p.Snake = state.Snake
		p.Food = state.Food
		p.Direction = state.Direction
	}
	return p
}

// SessionUpdate carries a game-state update from the playing client.
type SessionUpdate struct {
	Score     int64           `json:"score"`
	GameState json.RawMessage `json:"game_state"`
}

// StartSessionRequest starts a new live session
type StartSessionRequest struct {
	Mode GameMode `json:"mode"`
}
