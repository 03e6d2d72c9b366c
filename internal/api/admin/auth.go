// Package admin implements the authenticated management handlers: login,
// user administration, API key self-service, and the intake review queue
// with its conversion endpoints. Scope requirements are attached per route
// in the router (see internal/middleware/rbac.go).
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/auth"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/config"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
)

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	cfg      *config.Config
	userRepo *repositories.UserRepository
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, userRepo *repositories.UserRepository) *AuthHandlers {
	return &AuthHandlers{cfg: cfg, userRepo: userRepo}
}

// LoginRequest represents the email/password login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler exchanges email and password for a JWT
// POST /v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: email and password are required",
			})
			return
		}

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Login failed",
			})
			return
		}

		// Identical response for unknown email and wrong password so the
		// endpoint cannot be used to enumerate accounts
		if user == nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid email or password",
			})
			return
		}

		if !user.IsActive {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Account is disabled",
			})
			return
		}

		expiry := h.cfg.Security.JWTExpiry
		if expiry <= 0 {
			expiry = 24 * time.Hour
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, expiry)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		// Stamp last_login_at without blocking the response
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.userRepo.UpdateLastLogin(ctx, userID); err != nil {
				slog.Warn("failed to update last login", "user_id", userID, "error", err)
			}
		}(user.ID)

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(expiry.Seconds()),
			"user": gin.H{
				"id":    user.ID,
				"email": user.Email,
				"name":  user.Name,
				"role":  user.Role,
			},
		})
	}
}
