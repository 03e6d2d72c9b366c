package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/auth"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/config"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
)

// APIKeyHandlers handles API key self-service endpoints
type APIKeyHandlers struct {
	cfg        *config.Config
	apiKeyRepo *repositories.APIKeyRepository
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(cfg *config.Config, apiKeyRepo *repositories.APIKeyRepository) *APIKeyHandlers {
	return &APIKeyHandlers{cfg: cfg, apiKeyRepo: apiKeyRepo}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name      string   `json:"name" binding:"required"`
	Scopes    []string `json:"scopes" binding:"required"`
	ExpiresAt *string  `json:"expires_at"` // RFC3339 format
}

// CreateAPIKeyResponse represents the response when creating an API key
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"` // Only returned once during creation
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateAPIKeyHandler creates a new API key for the authenticated user. The
// requested scopes may not exceed what the caller already holds.
// POST /v1/apikeys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		userIDVal, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}
		userID, ok := userIDVal.(string)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Invalid user ID format",
			})
			return
		}

		if err := auth.ValidateScopes(req.Scopes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid scopes: " + err.Error(),
			})
			return
		}

		// A key can only carry scopes its creator holds; otherwise an API key
		// would be a privilege escalation path
		callerScopesVal, _ := c.Get("scopes")
		callerScopes, _ := callerScopesVal.([]string)
		for _, requested := range req.Scopes {
			if !auth.HasScope(callerScopes, auth.Scope(requested)) {
				c.JSON(http.StatusForbidden, gin.H{
					"error":          "Scope '" + requested + "' exceeds your permissions",
					"allowed_scopes": callerScopes,
				})
				return
			}
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid expires_at format. Use RFC3339",
				})
				return
			}
			expiresAt = &parsed
		}

		fullKey, keyHash, displayPrefix, err := auth.GenerateAPIKey(h.cfg.Security.APIKeyPrefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate API key",
			})
			return
		}

		apiKey := &models.APIKey{
			UserID:    userID,
			Name:      req.Name,
			KeyPrefix: displayPrefix,
			KeyHash:   keyHash,
			Scopes:    pq.StringArray(req.Scopes),
			ExpiresAt: expiresAt,
			IsActive:  true,
		}

		if err := h.apiKeyRepo.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create API key",
			})
			return
		}

		// Return full key (only time it's visible)
		c.JSON(http.StatusCreated, CreateAPIKeyResponse{
			ID:        apiKey.ID,
			Name:      apiKey.Name,
			Key:       fullKey,
			KeyPrefix: displayPrefix,
			Scopes:    []string(apiKey.Scopes),
			ExpiresAt: apiKey.ExpiresAt,
			CreatedAt: apiKey.CreatedAt,
		})
	}
}

// ListAPIKeysHandler lists the authenticated user's API keys
// GET /v1/apikeys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDVal, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}
		userID, ok := userIDVal.(string)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Invalid user ID format",
			})
			return
		}

		keys, err := h.apiKeyRepo.ListAPIKeysForUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list API keys",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"keys": keys,
		})
	}
}

// RevokeAPIKeyHandler deactivates one of the authenticated user's API keys.
// The repository guards on ownership, so revoking someone else's key reports
// not-found rather than leaking its existence.
// DELETE /v1/apikeys/:id
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDVal, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}
		userID, ok := userIDVal.(string)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Invalid user ID format",
			})
			return
		}

		if err := h.apiKeyRepo.RevokeAPIKey(c.Request.Context(), c.Param("id"), userID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "API key not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "API key revoked",
		})
	}
}
