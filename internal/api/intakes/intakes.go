package intakes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/auth"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// GetIntakeHandler retrieves a single intake with categories and contributors.
// Submitters only see their own intakes; reviewers see everything.
// GET /v1/intakes/:id
func GetIntakeHandler(svc *services.IntakeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		intake, err := svc.GetIntake(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve intake",
			})
			return
		}
		if intake == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Intake not found",
			})
			return
		}

		if !canSeeAllIntakes(c) {
			userID := currentUserID(c)
			if intake.SubmittedBy == nil || *intake.SubmittedBy != userID {
				c.JSON(http.StatusForbidden, gin.H{
					"error": "Access denied",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    intake,
		})
	}
}

// ListIntakesHandler lists intakes with optional status filtering and paging.
// Callers without the review scope are pinned to their own submissions.
// GET /v1/intakes?status=&limit=&offset=
func ListIntakesHandler(svc *services.IntakeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		limit, offset := parsePaging(c)

		submittedBy := ""
		if !canSeeAllIntakes(c) {
			submittedBy = currentUserID(c)
		}

		list, err := svc.ListIntakes(c.Request.Context(), status, submittedBy, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list intakes",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    list,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// canSeeAllIntakes reports whether the caller holds the review scope (or the
// admin wildcard) and may therefore see intakes submitted by anyone
func canSeeAllIntakes(c *gin.Context) bool {
	scopesVal, _ := c.Get("scopes")
	scopes, _ := scopesVal.([]string)
	return auth.HasScope(scopes, auth.ScopeIntakesReview)
}

func currentUserID(c *gin.Context) string {
	userIDVal, _ := c.Get("user_id")
	userID, _ := userIDVal.(string)
	return userID
}

// parsePaging reads limit/offset query parameters, clamping to sane bounds
func parsePaging(c *gin.Context) (limit, offset int) {
	limit = defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
