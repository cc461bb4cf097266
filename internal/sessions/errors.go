package sessions

import "errors"

// Error kinds surfaced by the session service. Expired, tampered, revoked and
// unknown refresh tokens all map to ErrInvalidToken so callers cannot probe
// which case they hit.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateToken     = errors.New("duplicate token")
	ErrUnavailable        = errors.New("session store unavailable")
)
