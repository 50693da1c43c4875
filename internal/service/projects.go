package service

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

func validPriority(p string) bool {
	switch p {
	case "none", "low", "medium", "high", "urgent":
		return true
	}
	return false
}

// Projects implements project commands.
type Projects struct {
	db  *sql.DB
	log *zap.Logger
}

func NewProjects(db *sql.DB, log *zap.Logger) *Projects {
	return &Projects{db: db, log: log.With(zap.String("module", "projects"))}
}

func (s *Projects) Create(ctx context.Context, rc RequestContext, in CreateProjectInput) (interface{}, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Validation("name", "project name is required")
	}
	if !projectKeyPattern.MatchString(in.ProjectKey) {
		return nil, Validation("project_key", "project key must be 2-10 uppercase alphanumeric characters starting with a letter")
	}
	priority := "none"
	if in.Priority != nil {
		if !validPriority(*in.Priority) {
			return nil, Validation("priority", "priority must be none, low, medium, high or urgent")
		}
		priority = *in.Priority
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, workspace_id, name, project_key, description, priority, owner_id, status_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		id, rc.WorkspaceID, strings.TrimSpace(in.Name), in.ProjectKey,
		in.Description, priority, in.OwnerID, in.StatusID, rc.UserID, now)
	if err != nil {
		return nil, Database("create project", err)
	}
	return map[string]interface{}{
		"id":           id,
		"workspace_id": rc.WorkspaceID,
		"name":         strings.TrimSpace(in.Name),
		"project_key":  in.ProjectKey,
		"description":  in.Description,
		"priority":     priority,
		"owner_id":     in.OwnerID,
		"status_id":    in.StatusID,
		"created_at":   now,
	}, nil
}

func (s *Projects) Update(ctx context.Context, rc RequestContext, projectID uuid.UUID, in UpdateProjectInput) (interface{}, error) {
	if in.Name == nil && in.Description == nil && in.Priority == nil && in.OwnerID == nil && in.StatusID == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name", "project name is required")
	}
	if in.Priority != nil && !validPriority(*in.Priority) {
		return nil, Validation("priority", "priority must be none, low, medium, high or urgent")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name = COALESCE($1, name),
		    description = COALESCE($2, description),
		    priority = COALESCE($3, priority),
		    owner_id = COALESCE($4, owner_id),
		    status_id = COALESCE($5, status_id),
		    updated_at = $6
		WHERE id = $7 AND workspace_id = $8`,
		in.Name, in.Description, in.Priority, in.OwnerID, in.StatusID,
		time.Now().UTC(), projectID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("update project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("project")
	}
	return s.get(ctx, rc, projectID)
}

func (s *Projects) Delete(ctx context.Context, rc RequestContext, projectID uuid.UUID) (interface{}, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1 AND workspace_id = $2`, projectID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("project")
	}
	return map[string]interface{}{"id": projectID, "deleted": true}, nil
}

func (s *Projects) Query(ctx context.Context, rc RequestContext, f ProjectFilters) (interface{}, error) {
	query := `
		SELECT p.id, p.name, p.project_key, p.description, p.priority,
		       p.owner_id, p.status_id, p.created_at, p.updated_at
		FROM projects p
		WHERE p.workspace_id = $1`
	args := []interface{}{rc.WorkspaceID}

	if f.Search != nil {
		args = append(args, "%"+*f.Search+"%")
		query += fmt.Sprintf(" AND (p.name ILIKE $%d OR p.project_key ILIKE $%d)", len(args), len(args))
	}
	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		query += fmt.Sprintf(" AND p.owner_id = $%d", len(args))
	}
	query += " ORDER BY p.created_at DESC"

	limit := 50
	if f.Limit != nil && *f.Limit > 0 && *f.Limit <= 200 {
		limit = *f.Limit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset != nil && *f.Offset > 0 {
		args = append(args, *f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Database("query projects", err)
	}
	defer rows.Close()

	projects := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id                   uuid.UUID
			name, projectKey     string
			description          sql.NullString
			priority             string
			ownerID, statusID    uuid.NullUUID
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &name, &projectKey, &description, &priority,
			&ownerID, &statusID, &createdAt, &updatedAt); err != nil {
			return nil, Database("scan project", err)
		}
		projects = append(projects, map[string]interface{}{
			"id": id, "name": name, "project_key": projectKey,
			"description": nullable(description), "priority": priority,
			"owner_id": nullableUUID(ownerID), "status_id": nullableUUID(statusID),
			"created_at": createdAt, "updated_at": updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query projects", err)
	}
	return map[string]interface{}{"projects": projects, "count": len(projects)}, nil
}

func (s *Projects) get(ctx context.Context, rc RequestContext, projectID uuid.UUID) (interface{}, error) {
	var (
		name, projectKey     string
		description          sql.NullString
		priority             string
		ownerID, statusID    uuid.NullUUID
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, project_key, description, priority, owner_id, status_id, created_at, updated_at
		FROM projects WHERE id = $1 AND workspace_id = $2`, projectID, rc.WorkspaceID).
		Scan(&name, &projectKey, &description, &priority, &ownerID, &statusID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("project")
	}
	if err != nil {
		return nil, Database("get project", err)
	}
	return map[string]interface{}{
		"id": projectID, "workspace_id": rc.WorkspaceID, "name": name,
		"project_key": projectKey, "description": nullable(description),
		"priority": priority, "owner_id": nullableUUID(ownerID),
		"status_id": nullableUUID(statusID), "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}

func nullableUUID(u uuid.NullUUID) interface{} {
	if u.Valid {
		return u.UUID
	}
	return nil
}
