package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bandmate/bandmate/backend/auth-service/internal/config"
	"github.com/bandmate/bandmate/backend/auth-service/internal/models"
)

var (
	// ErrExpired is returned when a token's exp claim has passed. A token
	// presented at exactly its expiry instant is already expired.
	ErrExpired = errors.New("token expired")
	// ErrInvalidToken covers bad signatures, malformed tokens and wrong
	// signing methods.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the signed payload embedded in access and refresh tokens.
// Subject carries the user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh tokens. The two token kinds use
// distinct secrets, so verifying an access token with the refresh secret (or
// the other way round) always fails.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewCodec(cfg config.JWTConfig) *Codec {
	return &Codec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken creates a signed JWT access token for the user.
func (c *Codec) IssueAccessToken(u *models.User) (string, time.Time, error) {
	return issue(u, c.accessSecret, c.accessTTL)
}

// IssueRefreshToken creates a signed JWT refresh token for the user. The
// caller is responsible for persisting it in the credential store.
func (c *Codec) IssueRefreshToken(u *models.User) (string, time.Time, error) {
	return issue(u, c.refreshSecret, c.refreshTTL)
}

func issue(u *models.User, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := &Claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// unique id so two tokens minted in the same second differ
			ID: uuid.NewString(),
		},
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := jt.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccessToken parses and validates an access token and returns its claims.
func (c *Codec) VerifyAccessToken(raw string) (*Claims, error) {
	return verify(raw, c.accessSecret)
}

// VerifyRefreshToken parses and validates a refresh token and returns its claims.
// Persistence-side validity is a separate concern checked by the session store.
func (c *Codec) VerifyRefreshToken(raw string) (*Claims, error) {
	return verify(raw, c.refreshSecret)
}

func verify(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	// exp boundary is exclusive: reject at the exact expiry instant
	if claims.ExpiresAt == nil || !time.Now().UTC().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	return claims, nil
}
