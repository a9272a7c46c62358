package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/snake-arena/internal/domain"
)

// createUserScript claims the username and email keys and writes the user
// hash. Returns 1 or 2 when the username or email is already taken.
var createUserScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then return 1 end
if redis.call('EXISTS', KEYS[3]) == 1 then return 2 end
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return 0
`)

var updateAvatarScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {} end
redis.call('HSET', KEYS[1], 'avatar', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

func userFromHash(m map[string]string) *domain.User {
	return &domain.User{
		ID:           m["id"],
		Username:     m["username"],
		Email:        m["email"],
		PasswordHash: m["password_hash"],
		Avatar:       m["avatar"],
		CreatedAt:    parseMicros(m["created_at"]),
	}
}

// CreateUser stores a user, rejecting duplicate usernames and emails
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	keys := []string{userKey(u.ID), userNameKey(u.Username), userEmailKey(u.Email)}
	code, err := createUserScript.Run(ctx, s.client, keys,
		u.ID,
		"id", u.ID,
		"username", u.Username,
		"email", u.Email,
		"password_hash", u.PasswordHash,
		"avatar", u.Avatar,
		"created_at", micros(u.CreatedAt),
	).Int()
	if err != nil {
		return domain.Unavailable("creating user", err)
	}
	switch code {
	case 1:
		return domain.ErrUsernameTaken
	case 2:
		return domain.ErrEmailTaken
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	m, err := s.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, domain.Unavailable("getting user", err)
	}
	if len(m) == 0 {
		return nil, domain.ErrUserNotFound
	}
	return userFromHash(m), nil
}

// GetUserByEmail resolves the email index, then loads the user
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	id, err := s.client.Get(ctx, userEmailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.Unavailable("getting user by email", err)
	}
	return s.GetUser(ctx, id)
}

// UpdateAvatar changes an existing user's avatar
func (s *Store) UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error) {
	reply, err := updateAvatarScript.Run(ctx, s.client, []string{userKey(id)}, avatar).Slice()
	if err != nil {
		return nil, domain.Unavailable("updating avatar", err)
	}
	if len(reply) == 0 {
		return nil, domain.ErrUserNotFound
	}
	return userFromHash(pairs(reply)), nil
}
