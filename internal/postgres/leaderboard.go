package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/snake-arena/internal/domain"
)

const entryColumns = `id, user_id, username, score, mode, avatar, created_at`

// AppendEntry ranks and inserts an entry in one transaction. The rank counts
// rows committed before this transaction's snapshot.
func (r *Repository) AppendEntry(ctx context.Context, e *domain.LeaderboardEntry) (int64, error) {
	var higher int64
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `SELECT COUNT(*) FROM leaderboard WHERE mode = $1 AND score > $2`
		if err := tx.QueryRow(ctx, query, string(e.Mode), e.Score).Scan(&higher); err != nil {
			return domain.Unavailable("counting higher scores", err)
		}

		query = `INSERT INTO leaderboard (` + entryColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := tx.Exec(ctx, query,
			e.ID, e.UserID, e.Username, e.Score, string(e.Mode), e.Avatar, e.CreatedAt,
		)
		if err != nil {
			return domain.Unavailable("inserting entry", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return higher + 1, nil
}

// TopEntries retrieves the best entries, optionally for a single mode
func (r *Repository) TopEntries(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard
		WHERE $1 = '' OR mode = $1
		ORDER BY score DESC, created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(mode), lim)
	if err != nil {
		return nil, domain.Unavailable("getting leaderboard entries", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Score, &e.Mode, &e.Avatar, &e.CreatedAt)
		if err != nil {
			return nil, domain.Unavailable("scanning entry", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("reading leaderboard entries", err)
	}
	return entries, nil
}

// BestScore returns a user's highest score in a mode
func (r *Repository) BestScore(ctx context.Context, userID string, mode domain.GameMode) (int64, bool, error) {
	query := `SELECT MAX(score) FROM leaderboard WHERE user_id = $1 AND mode = $2`
	var best *int64
	if err := r.pool.QueryRow(ctx, query, userID, string(mode)).Scan(&best); err != nil {
		return 0, false, domain.Unavailable("getting best score", err)
	}
	if best == nil {
		return 0, false, nil
	}
	return *best, true, nil
}
