// Package intakes implements the HTTP handlers for tool intake submission and
// submitter-facing intake visibility. All routes require authentication; the
// review queue and decisions live in the sibling admin package.
package intakes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/npm"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/services"
)

// SubmitRequest represents the request to submit a package for intake
type SubmitRequest struct {
	PackageName string `json:"packageName" binding:"required"`
	CategoryIDs []int  `json:"categoryIds" binding:"required"`
}

// SubmitHandler runs the submission pipeline for a package name
// POST /v1/intakes
func SubmitHandler(svc *services.IntakeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: packageName and categoryIds are required",
			})
			return
		}

		var submittedBy *string
		if userIDVal, exists := c.Get("user_id"); exists {
			if userID, ok := userIDVal.(string); ok {
				submittedBy = &userID
			}
		}

		intake, err := svc.Submit(c.Request.Context(), req.PackageName, req.CategoryIDs, submittedBy)
		if err != nil {
			var failure *services.SubmissionFailure
			if errors.As(err, &failure) {
				c.JSON(statusForFailure(failure), gin.H{
					"error": failure.Message,
					"step":  failure.Step,
					"details": gin.H{
						"errors":   failure.Errors,
						"warnings": failure.Warnings,
					},
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to process submission",
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"data":    intake,
		})
	}
}

// statusForFailure maps the rejecting pipeline step to an HTTP status:
// duplicates conflict, metadata and structure validation are client errors,
// an unknown package is a 404, and everything upstream or stored is a 500.
func statusForFailure(f *services.SubmissionFailure) int {
	switch f.Step {
	case services.StepDuplicateCheck:
		return http.StatusConflict
	case services.StepValidation, services.StepStructureValidation:
		return http.StatusBadRequest
	case services.StepNPMCheck:
		if errors.Is(f.Cause, npm.ErrPackageNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
