package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bandmate/bandmate/backend/auth-service/internal/models"
	"github.com/bandmate/bandmate/backend/auth-service/internal/password"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/logger"
)

// SessionRevoker is the slice of the session store the user service needs:
// deleting a user must cascade to every refresh credential they own.
type SessionRevoker interface {
	DeleteAllForUser(ctx context.Context, userID string) error
}

// Service encapsulates user-related business logic
type Service struct {
	repo     UserRepository
	sessions SessionRevoker
}

func NewService(r UserRepository, sessions SessionRevoker) *Service {
	return &Service{repo: r, sessions: sessions}
}

// Register creates a user with a bcrypt-hashed password and the member role.
func (s *Service) Register(ctx context.Context, email, plain, name string) (*models.User, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         models.RoleMember,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.Infof("registered user %s", u.ID)
	return u, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.repo.FindByEmail(ctx, email)
}

func (s *Service) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	return s.repo.List(ctx)
}

// Delete removes a user and revokes all of their sessions. The cascade runs
// even when the user record was already gone, so a retried delete still
// clears any leftover credentials.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteAllForUser(ctx, id); err != nil {
			return removed, fmt.Errorf("revoke sessions for deleted user %s: %w", id, err)
		}
	}
	if removed {
		logger.Infof("deleted user %s and revoked their sessions", id)
	}
	return removed, nil
}

// EnsureAdmin creates the seed admin account when it does not exist yet.
// Existing accounts are left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, email, plain, name string) error {
	if email == "" || plain == "" {
		return nil
	}
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if err == ErrEmailTaken {
			// raced with another instance seeding the same account
			return nil
		}
		return err
	}
	logger.Infof("seeded admin account %s", u.ID)
	return nil
}
