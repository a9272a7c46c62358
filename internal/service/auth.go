package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
)

const maxAvatarLength = 2048

// AuthService handles accounts and credential exchange
type AuthService struct {
	users     store.UserStore
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	users store.UserStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// Signup registers a user and logs them in
func (s *AuthService) Signup(ctx context.Context, req domain.SignupRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return s.issue(user)
}

// Login verifies credentials and returns a fresh token. Unknown emails and
// wrong passwords fail the same way.
func (s *AuthService) Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, domain.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if err := s.passwords.Verify(user.PasswordHash, req.Password); err != nil {
		return nil, err
	}
	return s.issue(user)
}

// ResolveUser maps a bearer token to a user ID
func (s *AuthService) ResolveUser(token string) (string, error) {
	return s.tokens.Validate(token)
}

// Me returns the caller's account. A valid token for a deleted user is
// treated as unauthorized.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return user, nil
}

// UpdateAvatar replaces the caller's avatar. Existing leaderboard entries keep
// the avatar they were submitted with.
func (s *AuthService) UpdateAvatar(ctx context.Context, userID, avatar string) (*domain.User, error) {
	if len(avatar) > maxAvatarLength {
		return nil, fmt.Errorf("%w: avatar reference too long", domain.ErrInvalidArgument)
	}
	user, err := s.users.UpdateAvatar(ctx, userID, avatar)
	if err != nil {
		return nil, fmt.Errorf("updating avatar: %w", err)
	}
	return user, nil
}

func (s *AuthService) issue(user *domain.User) (*domain.AuthResponse, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token for user %s: %w", user.ID, err)
	}
	return &domain.AuthResponse{
		UserProfile: user.Profile(),
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	}, nil
}
