package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Issues implements issue commands. Issue numbers are allocated per team
// from a counter column, so IDs like ENG-42 stay dense and human-readable.
type Issues struct {
	db  *sql.DB
	log *zap.Logger
}

func NewIssues(db *sql.DB, log *zap.Logger) *Issues {
	return &Issues{db: db, log: log.With(zap.String("module", "issues"))}
}

func (s *Issues) Create(ctx context.Context, rc RequestContext, in CreateIssueInput) (interface{}, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, Validation("title", "issue title is required")
	}
	if in.TeamID == uuid.Nil {
		return nil, Validation("team_id", "team id is required")
	}
	priority := "none"
	if in.Priority != nil {
		if !validPriority(*in.Priority) {
			return nil, Validation("priority", "priority must be none, low, medium, high or urgent")
		}
		priority = *in.Priority
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Database("create issue", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var number int
	err = tx.QueryRowContext(ctx, `
		UPDATE teams SET issue_counter = issue_counter + 1
		WHERE id = $1 AND workspace_id = $2
		RETURNING issue_counter`, in.TeamID, rc.WorkspaceID).Scan(&number)
	if err == sql.ErrNoRows {
		return nil, NotFound("team")
	}
	if err != nil {
		return nil, Database("create issue", err)
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (id, workspace_id, team_id, number, title, description,
		                    project_id, assignee_id, priority, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		id, rc.WorkspaceID, in.TeamID, number, strings.TrimSpace(in.Title),
		in.Description, in.ProjectID, in.AssigneeID, priority, rc.UserID, now)
	if err != nil {
		return nil, Database("create issue", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, Database("create issue", err)
	}

	return map[string]interface{}{
		"id":           id,
		"workspace_id": rc.WorkspaceID,
		"team_id":      in.TeamID,
		"number":       number,
		"title":        strings.TrimSpace(in.Title),
		"description":  in.Description,
		"project_id":   in.ProjectID,
		"assignee_id":  in.AssigneeID,
		"priority":     priority,
		"created_at":   now,
	}, nil
}

func (s *Issues) Update(ctx context.Context, rc RequestContext, issueID uuid.UUID, in UpdateIssueInput) (interface{}, error) {
	if in.Title == nil && in.Description == nil && in.TeamID == nil &&
		in.ProjectID == nil && in.AssigneeID == nil && in.Priority == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, Validation("title", "issue title is required")
	}
	if in.Priority != nil && !validPriority(*in.Priority) {
		return nil, Validation("priority", "priority must be none, low, medium, high or urgent")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE issues
		SET title = COALESCE($1, title),
		    description = COALESCE($2, description),
		    team_id = COALESCE($3, team_id),
		    project_id = COALESCE($4, project_id),
		    assignee_id = COALESCE($5, assignee_id),
		    priority = COALESCE($6, priority),
		    updated_at = $7
		WHERE id = $8 AND workspace_id = $9`,
		in.Title, in.Description, in.TeamID, in.ProjectID, in.AssigneeID, in.Priority,
		time.Now().UTC(), issueID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("update issue", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("issue")
	}
	return s.get(ctx, rc, issueID)
}

func (s *Issues) Delete(ctx context.Context, rc RequestContext, issueID uuid.UUID) (interface{}, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM issues WHERE id = $1 AND workspace_id = $2`, issueID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("delete issue", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("issue")
	}
	return map[string]interface{}{"id": issueID, "deleted": true}, nil
}

func (s *Issues) Query(ctx context.Context, rc RequestContext, f IssueFilters) (interface{}, error) {
	query := `
		SELECT i.id, i.team_id, i.number, i.title, i.description,
		       i.project_id, i.assignee_id, i.priority, i.created_at, i.updated_at
		FROM issues i
		WHERE i.workspace_id = $1`
	args := []interface{}{rc.WorkspaceID}

	if f.TeamID != nil {
		args = append(args, *f.TeamID)
		query += fmt.Sprintf(" AND i.team_id = $%d", len(args))
	}
	if f.ProjectID != nil {
		args = append(args, *f.ProjectID)
		query += fmt.Sprintf(" AND i.project_id = $%d", len(args))
	}
	if f.AssigneeID != nil {
		args = append(args, *f.AssigneeID)
		query += fmt.Sprintf(" AND i.assignee_id = $%d", len(args))
	}
	if f.Priority != nil {
		args = append(args, *f.Priority)
		query += fmt.Sprintf(" AND i.priority = $%d", len(args))
	}
	if f.Search != nil {
		args = append(args, "%"+*f.Search+"%")
		query += fmt.Sprintf(" AND i.title ILIKE $%d", len(args))
	}
	query += " ORDER BY i.created_at DESC"

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
		return nil, Database("query issues", err)
	}
	defer rows.Close()

	issues := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id, teamID            uuid.UUID
			number                int
			title                 string
			description           sql.NullString
			projectID, assigneeID uuid.NullUUID
			priority              string
			createdAt, updatedAt  time.Time
		)
		if err := rows.Scan(&id, &teamID, &number, &title, &description,
			&projectID, &assigneeID, &priority, &createdAt, &updatedAt); err != nil {
			return nil, Database("scan issue", err)
		}
		issues = append(issues, map[string]interface{}{
			"id": id, "team_id": teamID, "number": number, "title": title,
			"description": nullable(description), "project_id": nullableUUID(projectID),
			"assignee_id": nullableUUID(assigneeID), "priority": priority,
			"created_at": createdAt, "updated_at": updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query issues", err)
	}
	return map[string]interface{}{"issues": issues, "count": len(issues)}, nil
}

func (s *Issues) get(ctx context.Context, rc RequestContext, issueID uuid.UUID) (interface{}, error) {
	var (
		teamID                uuid.UUID
		number                int
		title                 string
		description           sql.NullString
		projectID, assigneeID uuid.NullUUID
		priority              string
		createdAt, updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT team_id, number, title, description, project_id, assignee_id, priority, created_at, updated_at
		FROM issues WHERE id = $1 AND workspace_id = $2`, issueID, rc.WorkspaceID).
		Scan(&teamID, &number, &title, &description, &projectID, &assigneeID, &priority, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("issue")
	}
	if err != nil {
		return nil, Database("get issue", err)
	}
	return map[string]interface{}{
		"id": issueID, "workspace_id": rc.WorkspaceID, "team_id": teamID, "number": number,
		"title": title, "description": nullable(description),
		"project_id": nullableUUID(projectID), "assignee_id": nullableUUID(assigneeID),
		"priority": priority, "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}
