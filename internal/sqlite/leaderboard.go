package sqlite

import (
	"context"
	"database/sql"

	"github.com/snake-arena/internal/domain"
)

const entryColumns = `id, user_id, username, score, mode, avatar, created_at`

func scanEntry(row rowScanner) (domain.LeaderboardEntry, error) {
	var e domain.LeaderboardEntry
	var created int64
	err := row.Scan(&e.ID, &e.UserID, &e.Username, &e.Score, &e.Mode, &e.Avatar, &created)
	e.CreatedAt = fromMicros(created)
	return e, err
}

// AppendEntry ranks and inserts an entry in one transaction
func (db *DB) AppendEntry(ctx context.Context, e *domain.LeaderboardEntry) (int64, error) {
	var higher int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM leaderboard WHERE mode = ? AND score > ?`,
			string(e.Mode), e.Score,
		).Scan(&higher)
		if err != nil {
			return domain.Unavailable("counting higher scores", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO leaderboard (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Username, e.Score, string(e.Mode), e.Avatar, toMicros(e.CreatedAt),
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

// TopEntries returns the best entries, optionally restricted to one mode
func (db *DB) TopEntries(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM leaderboard
		 WHERE ? = '' OR mode = ?
		 ORDER BY score DESC, created_at ASC, id ASC
		 LIMIT ?`,
		string(mode), string(mode), limit,
	)
	if err != nil {
		return nil, domain.Unavailable("querying leaderboard", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, domain.Unavailable("scanning entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("iterating leaderboard", err)
	}
	return entries, nil
}

// BestScore returns the user's highest score in a mode
func (db *DB) BestScore(ctx context.Context, userID string, mode domain.GameMode) (int64, bool, error) {
	var best sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(score) FROM leaderboard WHERE user_id = ? AND mode = ?`,
		userID, string(mode),
	).Scan(&best)
	if err != nil {
		return 0, false, domain.Unavailable("getting best score", err)
	}
	return best.Int64, best.Valid, nil
}
