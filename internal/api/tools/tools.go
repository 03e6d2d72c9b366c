// Package tools implements the public catalog handlers. These routes are
// intentionally unauthenticated so the ToolBox client can browse published
// tools without credentials; they stay behind the general rate limiter.
package tools

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// ListToolsHandler lists published tools, optionally filtered by category
// GET /v1/tools?category=&limit=&offset=
func ListToolsHandler(toolRepo *repositories.ToolRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		categoryID := 0
		if raw := c.Query("category"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "category must be a positive integer",
				})
				return
			}
			categoryID = n
		}

		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		offset := 0
		if raw := c.Query("offset"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				offset = n
			}
		}

		list, err := toolRepo.ListTools(c.Request.Context(), categoryID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list tools",
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

// GetToolHandler retrieves a published tool with its categories
// GET /v1/tools/:id
func GetToolHandler(toolRepo *repositories.ToolRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tool, err := toolRepo.GetTool(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve tool",
			})
			return
		}
		if tool == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Tool not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    tool,
		})
	}
}

// ListCategoriesHandler returns the fixed category taxonomy
// GET /v1/categories
func ListCategoriesHandler(categoryRepo *repositories.CategoryRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		categories, err := categoryRepo.ListCategories(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list categories",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    categories,
		})
	}
}
