package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/snake-arena/internal/domain"
)

const sessionColumns = `id, user_id, username, score, mode, status, viewers, game_state, avatar, started_at, last_update`

func scanSession(row pgx.Row) (*domain.LiveSession, error) {
	var s domain.LiveSession
	var state string
	err := row.Scan(&s.ID, &s.UserID, &s.Username, &s.Score, &s.Mode, &s.Status,
		&s.Viewers, &state, &s.Avatar, &s.StartedAt, &s.LastUpdate)
	if err != nil {
		return nil, err
	}
	if state != "" {
		s.GameState = []byte(state)
	}
	s.StartedAt = s.StartedAt.UTC()
	s.LastUpdate = s.LastUpdate.UTC()
	return &s, nil
}

func sessionResult(op string, s *domain.LiveSession, err error) (*domain.LiveSession, error) {
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, domain.Unavailable(op, err)
	}
	return s, nil
}

// StartSession supersedes the owner's playing sessions and inserts s. A
// transaction-scoped advisory lock on the owner serializes concurrent starts.
func (r *Repository) StartSession(ctx context.Context, s *domain.LiveSession) ([]string, error) {
	var superseded []string
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.UserID); err != nil {
			return domain.Unavailable("locking session owner", err)
		}

		rows, err := tx.Query(ctx, `
			UPDATE live_sessions SET status = $1, last_update = $2
			WHERE user_id = $3 AND status = $4
			RETURNING id
		`, string(domain.StatusEnded), time.Now().UTC(), s.UserID, string(domain.StatusPlaying))
		if err != nil {
			return domain.Unavailable("ending previous sessions", err)
		}
		superseded, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return domain.Unavailable("ending previous sessions", err)
		}

		query := `INSERT INTO live_sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err = tx.Exec(ctx, query,
			s.ID, s.UserID, s.Username, s.Score, string(s.Mode), string(s.Status), s.Viewers,
			string(s.GameState), s.Avatar, s.StartedAt, s.LastUpdate,
		)
		if err != nil {
			return domain.Unavailable("inserting session", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(superseded) == 0 {
		superseded = nil
	}
	return superseded, nil
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, id string) (*domain.LiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	return sessionResult("getting session", s, err)
}

// UpdateSession locks the row, applies fn and writes the result back
func (r *Repository) UpdateSession(ctx context.Context, id string, fn func(*domain.LiveSession) error) (*domain.LiveSession, error) {
	var updated *domain.LiveSession
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1 FOR UPDATE`
		s, err := scanSession(tx.QueryRow(ctx, query, id))
		if s, err = sessionResult("loading session", s, err); err != nil {
			return err
		}

		if err := fn(s); err != nil {
			return err
		}
		s.LastUpdate = time.Now().UTC().Truncate(time.Microsecond)

		_, err = tx.Exec(ctx, `
			UPDATE live_sessions
			SET score = $2, status = $3, viewers = $4, game_state = $5, last_update = $6
			WHERE id = $1
		`, id, s.Score, string(s.Status), s.Viewers, string(s.GameState), s.LastUpdate)
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
func (r *Repository) AdjustViewers(ctx context.Context, id string, delta int64) (*domain.LiveSession, error) {
	query := `
		UPDATE live_sessions SET viewers = GREATEST(viewers + $2, 0), last_update = $3
		WHERE id = $1
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, query, id, delta, time.Now().UTC()))
	return sessionResult("adjusting viewers", s, err)
}

// ListSessions returns sessions in a status, most watched first
func (r *Repository) ListSessions(ctx context.Context, status domain.SessionStatus) ([]domain.LiveSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM live_sessions
		WHERE status = $1
		ORDER BY viewers DESC, started_at DESC
	`
	rows, err := r.pool.Query(ctx, query, string(status))
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
		return nil, domain.Unavailable("listing sessions", err)
	}
	return sessions, nil
}

// EndIdleSessions ends playing sessions last updated before the cutoff
func (r *Repository) EndIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE live_sessions SET status = $1, last_update = $2
		WHERE status = $3 AND last_update < $4
	`
	result, err := r.pool.Exec(ctx, query,
		string(domain.StatusEnded), time.Now().UTC(), string(domain.StatusPlaying), before)
	if err != nil {
		return 0, domain.Unavailable("ending idle sessions", err)
	}
	return result.RowsAffected(), nil
}
