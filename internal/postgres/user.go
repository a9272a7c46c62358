package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/snake-arena/internal/domain"
)

const userColumns = `id, username, email, password_hash, avatar, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func userResult(op string, u *domain.User, err error) (*domain.User, error) {
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.Unavailable(op, err)
	}
	return u, nil
}

// CreateUser inserts a new user
func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, u.Avatar, u.CreatedAt)
	switch {
	case isUniqueViolation(err, "users_username_key"):
		return domain.ErrUsernameTaken
	case isUniqueViolation(err, "users_email_key"):
		return domain.ErrEmailTaken
	case err != nil:
		return domain.Unavailable("creating user", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	return userResult("getting user", u, err)
}

// GetUserByEmail retrieves a user by email address
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, query, email))
	return userResult("getting user by email", u, err)
}

// UpdateAvatar changes a user's avatar reference
func (r *Repository) UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error) {
	query := `UPDATE users SET avatar = $2 WHERE id = $1 RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query, id, avatar))
	return userResult("updating avatar", u, err)
}
