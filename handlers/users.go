package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandmate/bandmate/backend/auth-service/internal/models"
	"github.com/bandmate/bandmate/backend/auth-service/internal/sessions"
	"github.com/bandmate/bandmate/backend/auth-service/internal/users"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/logger"
	"github.com/bandmate/bandmate/backend/auth-service/pkg/middleware"
)

// UsersHandler exposes admin-only user management. Deleting a user revokes
// every session they own.
type UsersHandler struct {
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
}

func NewUsersHandler(u *users.Service, s *sessions.Service) *UsersHandler {
	return &UsersHandler{usersSvc: u, sessionsSvc: s}
}

// Register routes under /api/v1/users, all behind the guard and the admin
// role check.
func (h *UsersHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/users", middleware.Guard(h.sessionsSvc.Codec()), middleware.RequireRole(models.RoleAdmin))
	g.GET("", h.List)
	g.DELETE("/:id", h.Delete)
}

func (h *UsersHandler) List(c *gin.Context) {
	list, err := h.usersSvc.List(c.Request.Context())
	if err != nil {
		logger.Errorf("list users failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	out := make([]models.Summary, 0, len(list))
	for i := range list {
		out = append(out, list[i].Summary())
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h *UsersHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if ident, ok := middleware.CurrentIdentity(c); ok && ident.ID == id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
		return
	}
	removed, err := h.usersSvc.Delete(c.Request.Context(), id)
	if err != nil {
		logger.Errorf("delete user %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}
