package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/clock"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
)

const invalidCredentials = "invalid username or password"

// AuthConfig holds token settings for the user service
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// UserService handles registration, login and user administration
type UserService struct {
	users repository.UserStore
	cards repository.CardStore
	auth  AuthConfig
	clock clock.Clock
	log   *logrus.Logger
}

// NewUserService initializes a new user service
func NewUserService(users repository.UserStore, cards repository.CardStore, auth AuthConfig, clk clock.Clock, log *logrus.Logger) *UserService {
	return &UserService{users: users, cards: cards, auth: auth, clock: clk, log: log}
}

// Register creates a new enabled USER account
func (s *UserService) Register(ctx context.Context, username, email, password string) (models.User, error) {
	return s.createUser(ctx, username, email, password, models.RoleUser)
}

func (s *UserService) createUser(ctx context.Context, username, email, password string, role models.Role) (models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if n := utf8.RuneCountInString(username); n < 3 || n > 50 {
		return models.User{}, apperrors.Validation("username", "username must be between 3 and 50 characters")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return models.User{}, apperrors.Validation("email", "email must be a valid address")
	}
	if len(password) < 8 {
		return models.User{}, apperrors.Validation("password", "password must be at least 8 characters")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, apperrors.Internal("failed to hash password", err)
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         role,
		Enabled:      true,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		return models.User{}, apperrors.Internal("failed to create user", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username, "role": user.Role}).Info("User registered")
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *UserService) Login(ctx context.Context, username, password string) (string, models.User, error) {
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repository.ErrNotFound) {
		return "", models.User{}, &apperrors.UnauthorizedError{Message: invalidCredentials}
	}
	if err != nil {
		return "", models.User{}, apperrors.Internal("failed to find user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", models.User{}, &apperrors.UnauthorizedError{Message: invalidCredentials}
	}
	if !user.Enabled {
		return "", models.User{}, &apperrors.UnauthorizedError{Message: invalidCredentials}
	}

	token, err := IssueToken(user, s.auth.JWTSecret, s.auth.TokenTTL, s.clock.Now())
	if err != nil {
		return "", models.User{}, apperrors.Internal("failed to issue token", err)
	}

	s.log.WithField("user_id", user.ID).Info("User logged in")
	return token, user, nil
}

// Authenticate resolves a bearer token to an enabled user
func (s *UserService) Authenticate(ctx context.Context, token string) (models.User, error) {
	claims, err := ParseToken(token, s.auth.JWTSecret, s.clock.Now())
	if err != nil {
		return models.User{}, err
	}
	id, _ := claims.UserID()
	user, err := s.users.FindUserByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, &apperrors.UnauthorizedError{Message: "user no longer exists"}
	}
	if err != nil {
		return models.User{}, apperrors.Internal("failed to find user", err)
	}
	if !user.Enabled {
		return models.User{}, &apperrors.UnauthorizedError{Message: "user is disabled"}
	}
	return user, nil
}

// Profile returns a user together with their card count
func (s *UserService) Profile(ctx context.Context, userID int64) (models.UserResponse, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return models.UserResponse{}, err
	}
	count, err := s.cards.CountCardsByOwner(ctx, userID)
	if err != nil {
		return models.UserResponse{}, apperrors.Internal("failed to count cards", err)
	}
	return models.NewUserResponse(user, count), nil
}

// ListUsers returns a page of users with their card counts
func (s *UserService) ListUsers(ctx context.Context, page, size int) ([]models.UserResponse, error) {
	if page < 0 {
		return nil, apperrors.Validation("page", "page must not be negative")
	}
	if size == 0 {
		size = defaultPageSize
	}
	if size < 1 || size > maxPageSize {
		return nil, apperrors.Validation("size", "size must be between 1 and 100")
	}

	users, err := s.users.ListUsers(ctx, page, size)
	if err != nil {
		return nil, apperrors.Internal("failed to list users", err)
	}
	out := make([]models.UserResponse, 0, len(users))
	for _, u := range users {
		count, err := s.cards.CountCardsByOwner(ctx, u.ID)
		if err != nil {
			return nil, apperrors.Internal("failed to count cards", err)
		}
		out = append(out, models.NewUserResponse(u, count))
	}
	return out, nil
}

// GetUser returns a user with their card count
func (s *UserService) GetUser(ctx context.Context, userID int64) (models.UserResponse, error) {
	return s.Profile(ctx, userID)
}

// SetEnabled enables or disables a user account
func (s *UserService) SetEnabled(ctx context.Context, userID int64, enabled bool) error {
	err := s.users.SetUserEnabled(ctx, userID, enabled)
	if errors.Is(err, repository.ErrNotFound) {
		return &apperrors.UserNotFoundError{UserID: userID}
	}
	if err != nil {
		return apperrors.Internal("failed to update user", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "enabled": enabled}).Info("User enabled flag changed")
	return nil
}

// DeleteUser removes a user and every card they own
func (s *UserService) DeleteUser(ctx context.Context, userID int64) error {
	err := s.users.DeleteUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &apperrors.UserNotFoundError{UserID: userID}
	}
	if err != nil {
		return apperrors.Internal("failed to delete user", err)
	}
	s.log.WithField("user_id", userID).Info("User deleted")
	return nil
}

// EnsureAdmin creates the bootstrap administrator unless the username already exists
func (s *UserService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.users.FindUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return apperrors.Internal("failed to find user", err)
	}
	if _, err := s.createUser(ctx, username, email, password, models.RoleAdmin); err != nil {
		return err
	}
	s.log.WithField("username", username).Info("Bootstrap administrator created")
	return nil
}

func (s *UserService) findUser(ctx context.Context, userID int64) (models.User, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, &apperrors.UserNotFoundError{UserID: userID}
	}
	if err != nil {
		return models.User{}, apperrors.Internal("failed to find user", err)
	}
	return user, nil
}
