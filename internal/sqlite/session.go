package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/snake-arena/internal/domain"
)

const sessionColumns = `id, user_id, username, score, mode, status, viewers, game_state, avatar, started_at, last_update`

func scanSession(row rowScanner) (*domain.LiveSession, error) {
	var s domain.LiveSession
	var state string
	var started, updated int64
	err := row.Scan(&s.ID, &s.UserID, &s.Username, &s.Score, &s.Mode, &s.Status,
		&s.Viewers, &state, &s.Avatar, &started, &updated)
	if err != nil {
		return nil, err
	}
	if state != "" {
		s.GameState = []byte(state)
	}
	s.StartedAt = fromMicros(started)
	s.LastUpdate = fromMicros(updated)
	return &s, nil
}

func sessionNotFound(op string, err error) error {
	if isNoRows(err) {
		return domain.ErrSessionNotFound
	}
	return domain.Unavailable(op, err)
}

// StartSession ends the owner's playing sessions and inserts s in one
// transaction. The partial unique index rejects any interleaving that would
// leave two playing sessions for one user.
func (db *DB) StartSession(ctx context.Context, s *domain.LiveSession) ([]string, error) {
	var superseded []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`UPDATE live_sessions SET status = ?, last_update = ?
			 WHERE user_id = ? AND status = ? RETURNING id`,
			string(domain.StatusEnded), toMicros(time.Now()), s.UserID, string(domain.StatusPlaying),
		)
		if err != nil {
			return domain.Unavailable("ending previous sessions", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return domain.Unavailable("scanning superseded session", err)
			}
			superseded = append(superseded, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return domain.Unavailable("ending previous sessions", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO live_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.UserID, s.Username, s.Score, string(s.Mode), string(s.Status), s.Viewers,
			string(s.GameState), s.Avatar, toMicros(s.StartedAt), toMicros(s.LastUpdate),
		)
		if err != nil {
			return domain.Unavailable("inserting session", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(ctx context.Context, id string) (*domain.LiveSession, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, id))
	if err != nil {
		return nil, sessionNotFound("getting session", err)
	}
	return s, nil
}

// UpdateSession reads, mutates and writes back a session in one transaction
func (db *DB) UpdateSession(ctx context.Context, id string, fn func(*domain.LiveSession) error) (*domain.LiveSession, error) {
	var updated *domain.LiveSession
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, id))
		if err != nil {
			return sessionNotFound("loading session", err)
		}

		if err := fn(s); err != nil {
			return err
		}
		s.LastUpdate = time.Now().UTC().Truncate(time.Microsecond)

		_, err = tx.ExecContext(ctx,
			`UPDATE live_sessions
			 SET score = ?, status = ?, viewers = ?, game_state = ?, last_update = ?
			 WHERE id = ?`,
			s.Score, string(s.Status), s.Viewers, string(s.GameState), toMicros(s.LastUpdate), id,
		)
		if err != nil {
			return domain.Unavailable("updating session", err)
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AdjustViewers applies delta in a single statement
func (db *DB) AdjustViewers(ctx context.Context, id string, delta int64) (*domain.LiveSession, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx,
		`UPDATE live_sessions SET viewers = MAX(viewers + ?, 0), last_update = ?
		 WHERE id = ? RETURNING `+sessionColumns,
		delta, toMicros(time.Now()), id,
	))
	if err != nil {
		return nil, sessionNotFound("adjusting viewers", err)
	}
	return s, nil
}

// ListSessions returns sessions in a status, most watched first
func (db *DB) ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.LiveSession, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions
		 WHERE status = ?
		 ORDER BY viewers DESC, started_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, domain.Unavailable("listing sessions", err)
	}
	defer rows.Close()

	sessions := []domain.LiveSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, domain.Unavailable("scanning session", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("iterating sessions", err)
	}
	return sessions, nil
}

// EndIdleSessions ends playing sessions last updated before the cutoff
func (db *DB) EndIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE live_sessions SET status = ?, last_update = ?
		 WHERE status = ? AND last_update < ?`,
		string(domain.StatusEnded), toMicros(time.Now()), string(domain.StatusPlaying), toMicros(before),
	)
	if err != nil {
		return 0, domain.Unavailable("ending idle sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Unavailable("ending idle sessions", err)
	}
	return n, nil
}
