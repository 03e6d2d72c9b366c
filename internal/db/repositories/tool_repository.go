// tool_repository.go implements ToolRepository for the published tool catalog.
// Tool rows are upserted by the external build workflow; this repository only
// reads them and attaches category links after a successful conversion.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
)

// ToolRepository handles database operations for published tools
type ToolRepository struct {
	db *sqlx.DB
}

// NewToolRepository creates a new tool repository
func NewToolRepository(db *sqlx.DB) *ToolRepository {
	return &ToolRepository{db: db}
}

// GetTool retrieves a tool by ID with its categories
func (r *ToolRepository) GetTool(ctx context.Context, id string) (*models.Tool, error) {
	var tool models.Tool
	err := r.db.GetContext(ctx, &tool, `SELECT * FROM tools WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}

	if err := r.loadCategories(ctx, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

// GetToolByPackageName retrieves a tool by its unique package name
func (r *ToolRepository) GetToolByPackageName(ctx context.Context, packageName string) (*models.Tool, error) {
	var tool models.Tool
	err := r.db.GetContext(ctx, &tool, `SELECT * FROM tools WHERE package_name = $1`, packageName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool by package name: %w", err)
	}

	if err := r.loadCategories(ctx, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

// ListTools returns published tools, optionally filtered by category
func (r *ToolRepository) ListTools(ctx context.Context, categoryID, limit, offset int) ([]*models.Tool, error) {
	tools := []*models.Tool{}
	var err error

	if categoryID > 0 {
		err = r.db.SelectContext(ctx, &tools,
			`SELECT t.* FROM tools t
			 JOIN tool_categories tc ON tc.tool_id = t.id
			 WHERE tc.category_id = $1
			 ORDER BY t.name LIMIT $2 OFFSET $3`,
			categoryID, limit, offset,
		)
	} else {
		err = r.db.SelectContext(ctx, &tools,
			`SELECT * FROM tools ORDER BY name LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return tools, nil
}

// LinkCategories attaches category links to a tool. Existing links are left
// in place so the call is idempotent across conversion retries.
func (r *ToolRepository) LinkCategories(ctx context.Context, toolID string, categoryIDs []int) error {
	for _, categoryID := range categoryIDs {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO tool_categories (tool_id, category_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			toolID, categoryID,
		)
		if err != nil {
			return fmt.Errorf("failed to link category %d to tool: %w", categoryID, err)
		}
	}
	return nil
}

func (r *ToolRepository) loadCategories(ctx context.Context, tool *models.Tool) error {
	err := r.db.SelectContext(ctx, &tool.Categories,
		`SELECT c.id, c.name FROM categories c
		 JOIN tool_categories tc ON tc.category_id = c.id
		 WHERE tc.tool_id = $1
		 ORDER BY c.name`,
		tool.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load tool categories: %w", err)
	}
	return nil
}
