package sessions

import (
	"context"
	"time"

	"github.com/bandmate/bandmate/backend/auth-service/internal/models"
	"github.com/bandmate/bandmate/backend/auth-service/internal/tokens"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/logger"
)

// UserDirectory is the slice of the user store the session service needs.
// Lookups return (nil, nil) when no user matches.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// PasswordVerifier reports whether a plaintext password matches a stored hash.
type PasswordVerifier func(plain, hash string) bool

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	User             *models.User
}

// Service orchestrates the login, refresh-rotation, logout and logout-all
// protocols over the token codec and the credential store.
type Service struct {
	repo   Repository
	codec  *tokens.Codec
	users  UserDirectory
	verify PasswordVerifier
}

func NewService(repo Repository, codec *tokens.Codec, users UserDirectory, verify PasswordVerifier) *Service {
	return &Service{repo: repo, codec: codec, users: users, verify: verify}
}

// Codec exposes the token codec for request-time access token checks.
func (s *Service) Codec() *tokens.Codec { return s.codec }

// Login authenticates the email/password pair, persists a new refresh
// credential and returns a fresh token pair. Unknown email and wrong password
// both surface ErrInvalidCredentials so accounts cannot be enumerated.
func (s *Service) Login(ctx context.Context, email, plain string) (*TokenPair, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if u == nil || !s.verify(plain, u.PasswordHash) {
		logger.Infof("login rejected (user_known=%t)", u != nil)
		return nil, ErrInvalidCredentials
	}
	pair, err := s.issuePair(ctx, u)
	if err != nil {
		return nil, err
	}
	logger.Infof("login: user=%s refresh=%s", u.ID, tokenPrefix(pair.RefreshToken))
	return pair, nil
}

// Refresh validates a presented refresh token against the store and the
// codec, then rotates it: the old credential is deleted and a new pair is
// issued from the user's current record. Each token is single-use; of two
// concurrent refreshes with the same token at most one succeeds.
func (s *Service) Refresh(ctx context.Context, refresh string) (*TokenPair, error) {
	if refresh == "" {
		return nil, ErrMissingToken
	}
	ok, err := s.repo.IsValid(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Infof("refresh rejected, unknown or revoked token=%s", tokenPrefix(refresh))
		return nil, ErrInvalidToken
	}

	claims, err := s.codec.VerifyRefreshToken(refresh)
	if err != nil {
		// the store knew the token but the signature or expiry no longer
		// holds; drop the stale record so it cannot be retried
		if _, derr := s.repo.Delete(ctx, refresh); derr != nil {
			logger.Warnf("cleanup of stale refresh token %s failed: %v", tokenPrefix(refresh), derr)
		}
		return nil, ErrInvalidToken
	}

	// re-resolve the user rather than trusting embedded claims; role or
	// email may have changed since issuance
	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if u == nil {
		if _, derr := s.repo.Delete(ctx, refresh); derr != nil {
			logger.Warnf("cleanup of orphaned refresh token %s failed: %v", tokenPrefix(refresh), derr)
		}
		logger.Infof("refresh rejected, user %s no longer exists", claims.Subject)
		return nil, ErrUserNotFound
	}

	// deleting the old token is the atomic claim; a concurrent rotation
	// that lost the race sees no removal and fails here
	deleted, err := s.repo.Delete(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if !deleted {
		logger.Infof("refresh lost rotation race for token=%s user=%s", tokenPrefix(refresh), u.ID)
		return nil, ErrInvalidToken
	}

	pair, err := s.issuePair(ctx, u)
	if err != nil {
		return nil, err
	}
	logger.Infof("refresh: user=%s old=%s new=%s", u.ID, tokenPrefix(refresh), tokenPrefix(pair.RefreshToken))
	return pair, nil
}

// Logout revokes one refresh credential. Idempotent: revoking an unknown or
// already-revoked token is not an error.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	if refresh == "" {
		return nil
	}
	if _, err := s.repo.Delete(ctx, refresh); err != nil {
		return err
	}
	logger.Infof("logout: token=%s", tokenPrefix(refresh))
	return nil
}

// LogoutAll revokes every refresh credential the user owns, ending all
// sessions on every device.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.repo.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	logger.Infof("logout-all: user=%s", userID)
	return nil
}

// PurgeExpired removes credential records past their expiry. Safe to run
// concurrently with all other operations.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.PurgeExpired(ctx, time.Now().UTC())
}

func (s *Service) issuePair(ctx context.Context, u *models.User) (*TokenPair, error) {
	access, accessExp, err := s.codec.IssueAccessToken(u)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.codec.IssueRefreshToken(u)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		RefreshToken: refresh,
		UserID:       u.ID,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    refreshExp,
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             u,
	}, nil
}

// tokenPrefix returns a short prefix safe for logs; full tokens are never logged.
func tokenPrefix(tok string) string {
	if len(tok) <= 8 {
		return tok
	}
	return tok[:8]
}
