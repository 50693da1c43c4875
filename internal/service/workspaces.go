package service

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var urlKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,30}[a-z0-9]$`)

// Workspaces implements workspace commands. Creation is the only command
// allowed without an active workspace on the connection.
type Workspaces struct {
	db  *sql.DB
	log *zap.Logger
}

func NewWorkspaces(db *sql.DB, log *zap.Logger) *Workspaces {
	return &Workspaces{db: db, log: log.With(zap.String("module", "workspaces"))}
}

func (s *Workspaces) Create(ctx context.Context, userID uuid.UUID, in CreateWorkspaceInput) (interface{}, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Validation("name", "workspace name is required")
	}
	if !urlKeyPattern.MatchString(in.URLKey) {
		return nil, Validation("url_key", "url key must be 3-32 lowercase alphanumeric or hyphen characters")
	}

	id := uuid.New()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Database("create workspace", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, url_key, logo_url, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		id, strings.TrimSpace(in.Name), in.URLKey, in.LogoURL, userID, now)
	if err != nil {
		return nil, Database("create workspace", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role, status, joined_at)
		VALUES ($1, $2, $3, 'owner', 'active', $4)`,
		uuid.New(), id, userID, now)
	if err != nil {
		return nil, Database("create workspace", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, Database("create workspace", err)
	}

	return map[string]interface{}{
		"id":         id,
		"name":       strings.TrimSpace(in.Name),
		"url_key":    in.URLKey,
		"logo_url":   in.LogoURL,
		"created_at": now,
	}, nil
}

func (s *Workspaces) Update(ctx context.Context, rc RequestContext, in UpdateWorkspaceInput) (interface{}, error) {
	if in.Name == nil && in.URLKey == nil && in.LogoURL == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name", "workspace name is required")
	}
	if in.URLKey != nil && !urlKeyPattern.MatchString(*in.URLKey) {
		return nil, Validation("url_key", "url key must be 3-32 lowercase alphanumeric or hyphen characters")
	}
	if err := s.requireRole(ctx, rc, "owner", "admin"); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET name = COALESCE($1, name),
		    url_key = COALESCE($2, url_key),
		    logo_url = COALESCE($3, logo_url),
		    updated_at = $4
		WHERE id = $5`,
		in.Name, in.URLKey, in.LogoURL, time.Now().UTC(), rc.WorkspaceID)
	if err != nil {
		return nil, Database("update workspace", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("workspace")
	}
	return s.Get(ctx, rc)
}

func (s *Workspaces) Delete(ctx context.Context, rc RequestContext) (interface{}, error) {
	if err := s.requireRole(ctx, rc, "owner"); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, rc.WorkspaceID)
	if err != nil {
		return nil, Database("delete workspace", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("workspace")
	}
	return map[string]interface{}{"id": rc.WorkspaceID, "deleted": true}, nil
}

func (s *Workspaces) Get(ctx context.Context, rc RequestContext) (interface{}, error) {
	var (
		name, urlKey         string
		logoURL              sql.NullString
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, url_key, logo_url, created_at, updated_at
		FROM workspaces WHERE id = $1`, rc.WorkspaceID).
		Scan(&name, &urlKey, &logoURL, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("workspace")
	}
	if err != nil {
		return nil, Database("get workspace", err)
	}
	return map[string]interface{}{
		"id": rc.WorkspaceID, "name": name, "url_key": urlKey,
		"logo_url": nullable(logoURL), "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}

// QueryMine lists every workspace the user is an active member of. Unlike
// the other reads this is not workspace-scoped, so a user without an active
// workspace can still discover where they belong.
func (s *Workspaces) QueryMine(ctx context.Context, userID uuid.UUID) (interface{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.url_key, w.logo_url, wm.role, w.created_at
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1 AND wm.status = 'active'
		ORDER BY w.created_at ASC`, userID)
	if err != nil {
		return nil, Database("query workspaces", err)
	}
	defer rows.Close()

	workspaces := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id            uuid.UUID
			name, urlKey  string
			logoURL       sql.NullString
			role          string
			createdAt     time.Time
		)
		if err := rows.Scan(&id, &name, &urlKey, &logoURL, &role, &createdAt); err != nil {
			return nil, Database("scan workspace", err)
		}
		workspaces = append(workspaces, map[string]interface{}{
			"id": id, "name": name, "url_key": urlKey,
			"logo_url": nullable(logoURL), "role": role, "created_at": createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query workspaces", err)
	}
	return map[string]interface{}{"workspaces": workspaces, "count": len(workspaces)}, nil
}

func (s *Workspaces) requireRole(ctx context.Context, rc RequestContext, roles ...string) error {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2 AND status = 'active'`,
		rc.WorkspaceID, rc.UserID).Scan(&role)
	if err == sql.ErrNoRows {
		return Permission("not a member of this workspace")
	}
	if err != nil {
		return Database("check workspace role", err)
	}
	for _, r := range roles {
		if role == r {
			return nil
		}
	}
	return Permission("insufficient workspace role")
}
