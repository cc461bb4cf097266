package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandmate/bandmate/backend/auth-service/internal/config"
	"github.com/bandmate/bandmate/backend/auth-service/internal/sessions"
	"github.com/bandmate/bandmate/backend/auth-service/internal/users"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/logger"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/metrics"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/middleware"
)

const (
	accessCookie  = middleware.AccessCookie
	refreshCookie = "refreshToken"
	cookiePath    = "/"
)

// uniform message for unknown email and wrong password; account enumeration
// must not be possible through the login endpoint
const invalidCredentialsMsg = "no account found with this email or the password is incorrect"

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service) *AuthHandler {
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/register", h.RegisterUser)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)

	guard := middleware.Guard(h.sessionsSvc.Codec())
	a.POST("/logout", guard, h.Logout)
	a.POST("/logout-all", guard, h.LogoutAll)
	a.GET("/me", guard, h.Me)
}

// RegisterUser creates a new member account.
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password and name are required"})
		return
	}
	u, err := h.usersSvc.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
			return
		}
		logger.Errorf("register failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u.Summary()})
}

// Login authenticates email+password, sets the token cookies and returns the
// user summary with the access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	pair, err := h.sessionsSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		h.writeAuthError(c, err)
		return
	}
	metrics.Logins.WithLabelValues("success").Inc()

	h.setTokenCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{
		"user":        pair.User.Summary(),
		"accessToken": pair.AccessToken,
	})
}

// Refresh rotates the presented refresh token and returns a new access token.
// The token is read from the cookie first, then from the body.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refresh := h.presentedRefreshToken(c)

	pair, err := h.sessionsSvc.Refresh(c.Request.Context(), refresh)
	if err != nil {
		metrics.Refreshes.WithLabelValues("failure").Inc()
		h.writeAuthError(c, err)
		return
	}
	metrics.Refreshes.WithLabelValues("success").Inc()

	h.setTokenCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{"accessToken": pair.AccessToken})
}

// Logout revokes the presented refresh token and clears both cookies.
// Succeeds regardless of the token's prior validity.
func (h *AuthHandler) Logout(c *gin.Context) {
	refresh := h.presentedRefreshToken(c)
	if err := h.sessionsSvc.Logout(c.Request.Context(), refresh); err != nil {
		h.writeAuthError(c, err)
		return
	}
	metrics.Logouts.WithLabelValues("one").Inc()
	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// LogoutAll revokes every session owned by the authenticated user.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	ident, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err := h.sessionsSvc.LogoutAll(c.Request.Context(), ident.ID); err != nil {
		h.writeAuthError(c, err)
		return
	}
	metrics.Logouts.WithLabelValues("all").Inc()
	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out from all devices"})
}

// Me returns the identity the guard resolved from the access token. The
// session store is not consulted here.
func (h *AuthHandler) Me(c *gin.Context) {
	ident, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": ident})
}

func (h *AuthHandler) presentedRefreshToken(c *gin.Context) string {
	if v, err := c.Cookie(refreshCookie); err == nil && v != "" {
		return v
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

// Cookie attributes follow the transport contract: httpOnly always, Secure in
// production, SameSite=Lax, scoped to the application path, max-age equal to
// the respective token lifetime.
func (h *AuthHandler) setTokenCookies(c *gin.Context, pair *sessions.TokenPair) {
	codec := h.sessionsSvc.Codec()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessCookie, pair.AccessToken, int(codec.AccessTTL().Seconds()), cookiePath, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
	c.SetCookie(refreshCookie, pair.RefreshToken, int(codec.RefreshTTL().Seconds()), cookiePath, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
}

func (h *AuthHandler) clearTokenCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessCookie, "", -1, cookiePath, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
	c.SetCookie(refreshCookie, "", -1, cookiePath, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
}

// writeAuthError maps session-service error kinds to HTTP responses. Invalid,
// revoked and expired tokens are deliberately indistinct on the wire.
func (h *AuthHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessions.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": invalidCredentialsMsg})
	case errors.Is(err, sessions.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token required"})
	case errors.Is(err, sessions.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
	case errors.Is(err, sessions.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
	case errors.Is(err, sessions.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		logger.Errorf("auth operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
