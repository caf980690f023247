package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/splax/todolist/internal/apperr"
	"github.com/splax/todolist/internal/domain"
	"github.com/splax/todolist/internal/repository"
	"github.com/splax/todolist/pkg/config"
	"github.com/splax/todolist/pkg/crypto"
	jwtpkg "github.com/splax/todolist/pkg/jwt"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

const (
	msgCredentialsRequired = "email and password are required"
	msgPasswordTooShort    = "password must be at least 6 characters"
	msgPasswordTooLong     = "password must be at most 72 bytes"
	msgEmailTaken          = "email already registered"
	msgInvalidCredentials  = "invalid email or password"
	msgNoToken             = "no token provided"
	msgInvalidToken        = "invalid token"
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{users: users, logger: logger, cfg: cfg}
}

// Session is what a successful register or login hands back to the client.
type Session struct {
	Token  string `json:"token"`
	UserID int64  `json:"userId"`
}

// Register creates a user and signs them in.
func (s Service) Register(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, apperr.Validation(msgCredentialsRequired)
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return Session{}, apperr.Validation(msgPasswordTooShort)
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return Session{}, apperr.Conflict(msgEmailTaken)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return Session{}, apperr.Internal(fmt.Errorf("lookup email: %w", err))
	}

	hash, err := crypto.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return Session{}, apperr.Validation(msgPasswordTooLong)
		}
		return Session{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	user := &domain.User{Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// two registrations raced past the lookup
		if errors.Is(err, repository.ErrConflict) {
			return Session{}, apperr.Conflict(msgEmailTaken)
		}
		return Session{}, apperr.Internal(fmt.Errorf("create user: %w", err))
	}

	session, err := s.issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return session, nil
}

// Login authenticates a user. Unknown emails and wrong passwords produce the
// same error.
func (s Service) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, apperr.Validation(msgCredentialsRequired)
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.Auth(msgInvalidCredentials)
		}
		return Session{}, apperr.Internal(fmt.Errorf("lookup email: %w", err))
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Debug("password mismatch", "user_id", user.ID)
		return Session{}, apperr.Auth(msgInvalidCredentials)
	}

	session, err := s.issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return session, nil
}

// Authorize verifies a bearer token and returns the user id it carries. With
// AuthCheckUserExists set, tokens of users that no longer exist are rejected.
func (s Service) Authorize(ctx context.Context, token string) (int64, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return 0, apperr.Auth(msgNoToken)
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return 0, &apperr.Error{Kind: apperr.KindAuth, Message: msgInvalidToken, Err: err}
	}
	if s.cfg.AuthCheckUserExists {
		if _, err := s.users.GetUserByID(ctx, claims.UserID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return 0, apperr.Auth(msgInvalidToken)
			}
			return 0, apperr.Internal(fmt.Errorf("lookup token user: %w", err))
		}
	}
	return claims.UserID, nil
}

// IssueToken signs a token for userID with the configured lifetime.
func (s Service) IssueToken(userID int64) (string, error) {
	token, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("sign token: %w", err))
	}
	return token, nil
}

func (s Service) issue(userID int64) (Session, error) {
	token, err := s.IssueToken(userID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: userID}, nil
}
