package sqlite

import (
	"context"

	"github.com/snake-arena/internal/domain"
)

const userColumns = `id, username, email, password_hash, avatar, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMicros(created)
	return &u, nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Avatar, toMicros(u.CreatedAt),
	)
	switch {
	case isUniqueViolation(err, "users.username"):
		return domain.ErrUsernameTaken
	case isUniqueViolation(err, "users.email"):
		return domain.ErrEmailTaken
	case err != nil:
		return domain.Unavailable("inserting user", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (db *DB) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.Unavailable("getting user", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.Unavailable("getting user by email", err)
	}
	return u, nil
}

// UpdateAvatar changes the avatar reference, the only mutable user field
func (db *DB) UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`UPDATE users SET avatar = ? WHERE id = ? RETURNING `+userColumns, avatar, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.Unavailable("updating avatar", err)
	}
	return u, nil
}
