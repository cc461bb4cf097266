package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandmate/bandmate/backend/auth-service/internal/tokens"
)

// IdentityKey is the gin context key the Guard stores the caller under.
const IdentityKey = "identity"

// AccessCookie is the cookie fallback consulted when no Authorization header
// is present.
const AccessCookie = "accessToken"

// Identity is the resolved caller made available to downstream handlers.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AccessVerifier is the minimal codec surface the Guard depends on.
type AccessVerifier interface {
	VerifyAccessToken(raw string) (*tokens.Claims, error)
}

// Guard returns a gin middleware that authenticates requests by access token
// alone. Validity is purely cryptographic: the session store is never
// consulted, so a revoked session stays usable for at most one access-token
// lifetime. Keep that lifetime short.
func Guard(codec AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			if v, err := c.Cookie(AccessCookie); err == nil {
				raw = v
			}
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := codec.VerifyAccessToken(raw)
		if err != nil {
			// expired and tampered tokens get the same answer
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(IdentityKey, Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role})
		c.Next()
	}
}

// RequireRole returns a middleware enforcing a role check. It must run after
// Guard: unauthenticated requests get 401, authenticated callers with the
// wrong role get 403.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if ident.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// CurrentIdentity returns the identity the Guard resolved for this request.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return Identity{}, false
	}
	ident, ok := v.(Identity)
	return ident, ok
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
