package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
)

// UserService covers administrative user management.
type UserService struct {
	userRepo repositories.UserRepository
	auth     *AuthService
	logger   *zap.Logger
}

func NewUserService(userRepo repositories.UserRepository, auth *AuthService, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		auth:     auth,
		logger:   logging.OrNop(logger).Named("users"),
	}
}

// SetCODAccess grants or revokes cash-on-delivery for a user. Checkout re-reads the flag
// when an order is submitted.
func (s *UserService) SetCODAccess(ctx context.Context, userID string, enabled bool) (*models.User, error) {
	if err := s.userRepo.SetCODEnabled(ctx, userID, enabled); err != nil {
		return nil, err
	}
	s.logger.Info("cod access changed", zap.String("user_id", userID), zap.Bool("enabled", enabled))
	return s.userRepo.GetByID(ctx, userID)
}

// EnsureAdmin creates the bootstrap administrator unless the username already exists.
func (s *UserService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.userRepo.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	admin := &models.User{
		Username: username,
		Email:    email,
		Password: password,
		Role:     models.RoleAdmin,
	}
	if err := s.auth.RegisterUser(ctx, admin); err != nil {
		return err
	}
	s.logger.Info("bootstrap administrator created", zap.String("username", username))
	return nil
}
