package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/cicd"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/services"
)

// IntakeReviewHandlers handles the review queue, review decisions, and the
// conversion job endpoints
type IntakeReviewHandlers struct {
	intakeService     *services.IntakeService
	reviewService     *services.ReviewService
	conversionService *services.ConversionService
}

// NewIntakeReviewHandlers creates a new IntakeReviewHandlers instance
func NewIntakeReviewHandlers(
	intakeService *services.IntakeService,
	reviewService *services.ReviewService,
	conversionService *services.ConversionService,
) *IntakeReviewHandlers {
	return &IntakeReviewHandlers{
		intakeService:     intakeService,
		reviewService:     reviewService,
		conversionService: conversionService,
	}
}

// ListIntakesHandler lists intakes across all submitters for the review queue
// GET /v1/admin/intakes?status=pending_review&limit=&offset=
func (h *IntakeReviewHandlers) ListIntakesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		offset := 0
		if raw := c.Query("offset"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				offset = n
			}
		}

		list, err := h.intakeService.ListIntakes(c.Request.Context(), c.Query("status"), "", limit, offset)
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

// ReviewRequest represents an admin review decision
type ReviewRequest struct {
	IntakeID      string  `json:"intakeId" binding:"required"`
	Action        string  `json:"action" binding:"required"`
	ReviewerNotes *string `json:"reviewerNotes"`
}

// ReviewHandler applies an approve/reject/needs_changes decision to a
// pending_review intake
// POST /v1/admin/intakes/review
func (h *IntakeReviewHandlers) ReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: intakeId and action are required",
			})
			return
		}

		reviewerID := currentUserID(c)

		intake, err := h.reviewService.Review(c.Request.Context(), req.IntakeID, req.Action, req.ReviewerNotes, reviewerID)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidAction):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, repositories.ErrIntakeNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Intake not found"})
			case errors.Is(err, repositories.ErrStatusConflict):
				c.JSON(http.StatusConflict, gin.H{"error": "Intake is not pending review"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply review decision"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Review recorded",
			"data":    intake,
		})
	}
}

// ConvertRequest represents the request to convert an approved intake
type ConvertRequest struct {
	IntakeID string `json:"intakeId" binding:"required"`
}

// ConvertHandler queues the conversion of an approved intake into a published
// tool. The build runs in the background; the response carries the job id to
// poll.
// POST /v1/admin/intakes/convert
func (h *IntakeReviewHandlers) ConvertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConvertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: intakeId is required",
			})
			return
		}

		job, err := h.conversionService.StartConversion(c.Request.Context(), req.IntakeID, currentUserID(c))
		if err != nil {
			switch {
			case errors.Is(err, cicd.ErrNotConfigured):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Conversion is not configured"})
			case errors.Is(err, repositories.ErrIntakeNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Intake not found"})
			case errors.Is(err, services.ErrNotApproved):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, repositories.ErrActiveJobExists):
				c.JSON(http.StatusConflict, gin.H{"error": "A conversion job for this intake is already active"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start conversion"})
			}
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"data": gin.H{
				"jobId":    job.ID,
				"intakeId": job.IntakeID,
				"status":   job.Status,
			},
		})
	}
}

// GetConversionJobHandler returns a conversion job including its outcome report
// GET /v1/admin/intakes/convert/:jobId
func (h *IntakeReviewHandlers) GetConversionJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := h.conversionService.GetJob(c.Request.Context(), c.Param("jobId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve conversion job",
			})
			return
		}
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Conversion job not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    job,
		})
	}
}

// currentUserID reads the authenticated user id set by the auth middleware
func currentUserID(c *gin.Context) string {
	userIDVal, _ := c.Get("user_id")
	userID, _ := userIDVal.(string)
	return userID
}
