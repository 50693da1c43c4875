package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func validStatusCategory(c string) bool {
	switch c {
	case "backlog", "planned", "in_progress", "completed", "canceled":
		return true
	}
	return false
}

// ProjectStatuses implements the workspace-level project status catalog.
type ProjectStatuses struct {
	db  *sql.DB
	log *zap.Logger
}

func NewProjectStatuses(db *sql.DB, log *zap.Logger) *ProjectStatuses {
	return &ProjectStatuses{db: db, log: log.With(zap.String("module", "project_statuses"))}
}

func (s *ProjectStatuses) Create(ctx context.Context, rc RequestContext, in CreateProjectStatusInput) (interface{}, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Validation("name", "status name is required")
	}
	if !hexColor.MatchString(in.Color) {
		return nil, Validation("color", "color must be a hex value like #6e56cf")
	}
	if !validStatusCategory(in.Category) {
		return nil, Validation("category", "category must be backlog, planned, in_progress, completed or canceled")
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_statuses (id, workspace_id, name, color, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		id, rc.WorkspaceID, strings.TrimSpace(in.Name), strings.ToLower(in.Color), in.Category, now)
	if err != nil {
		return nil, Database("create project status", err)
	}
	return map[string]interface{}{
		"id":           id,
		"workspace_id": rc.WorkspaceID,
		"name":         strings.TrimSpace(in.Name),
		"color":        strings.ToLower(in.Color),
		"category":     in.Category,
		"created_at":   now,
	}, nil
}

func (s *ProjectStatuses) Update(ctx context.Context, rc RequestContext, statusID uuid.UUID, in UpdateProjectStatusInput) (interface{}, error) {
	if in.Name == nil && in.Color == nil && in.Category == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name", "status name is required")
	}
	if in.Color != nil && !hexColor.MatchString(*in.Color) {
		return nil, Validation("color", "color must be a hex value like #6e56cf")
	}
	if in.Category != nil && !validStatusCategory(*in.Category) {
		return nil, Validation("category", "category must be backlog, planned, in_progress, completed or canceled")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE project_statuses
		SET name = COALESCE($1, name),
		    color = COALESCE($2, color),
		    category = COALESCE($3, category),
		    updated_at = $4
		WHERE id = $5 AND workspace_id = $6`,
		in.Name, in.Color, in.Category, time.Now().UTC(), statusID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("update project status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("project status")
	}
	return s.get(ctx, rc, statusID)
}

func (s *ProjectStatuses) Delete(ctx context.Context, rc RequestContext, statusID uuid.UUID) (interface{}, error) {
	// Refuse to drop a status that projects still point at.
	var inUse int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE status_id = $1 AND workspace_id = $2`,
		statusID, rc.WorkspaceID).Scan(&inUse)
	if err != nil {
		return nil, Database("delete project status", err)
	}
	if inUse > 0 {
		return nil, Conflict("status is still assigned to projects")
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM project_statuses WHERE id = $1 AND workspace_id = $2`, statusID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("delete project status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("project status")
	}
	return map[string]interface{}{"id": statusID, "deleted": true}, nil
}

func (s *ProjectStatuses) Query(ctx context.Context, rc RequestContext) (interface{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, category, created_at, updated_at
		FROM project_statuses
		WHERE workspace_id = $1
		ORDER BY category ASC, name ASC`, rc.WorkspaceID)
	if err != nil {
		return nil, Database("query project statuses", err)
	}
	defer rows.Close()

	statuses := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id                    uuid.UUID
			name, color, category string
			createdAt, updatedAt  time.Time
		)
		if err := rows.Scan(&id, &name, &color, &category, &createdAt, &updatedAt); err != nil {
			return nil, Database("scan project status", err)
		}
		statuses = append(statuses, map[string]interface{}{
			"id": id, "name": name, "color": color, "category": category,
			"created_at": createdAt, "updated_at": updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query project statuses", err)
	}
	return map[string]interface{}{"statuses": statuses, "count": len(statuses)}, nil
}

func (s *ProjectStatuses) get(ctx context.Context, rc RequestContext, statusID uuid.UUID) (interface{}, error) {
	var (
		name, color, category string
		createdAt, updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, color, category, created_at, updated_at
		FROM project_statuses WHERE id = $1 AND workspace_id = $2`, statusID, rc.WorkspaceID).
		Scan(&name, &color, &category, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("project status")
	}
	if err != nil {
		return nil, Database("get project status", err)
	}
	return map[string]interface{}{
		"id": statusID, "workspace_id": rc.WorkspaceID, "name": name, "color": color,
		"category": category, "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}
