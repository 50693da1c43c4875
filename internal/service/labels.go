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

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func validLabelLevel(level string) bool {
	return level == "project" || level == "issue"
}

// Labels implements label commands over the relational store.
type Labels struct {
	db  *sql.DB
	log *zap.Logger
}

func NewLabels(db *sql.DB, log *zap.Logger) *Labels {
	return &Labels{db: db, log: log.With(zap.String("module", "labels"))}
}

func (s *Labels) Create(ctx context.Context, rc RequestContext, in CreateLabelInput) (interface{}, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Validation("name", "label name is required")
	}
	if !hexColor.MatchString(in.Color) {
		return nil, Validation("color", "color must be a hex value like #6e56cf")
	}
	if !validLabelLevel(in.Level) {
		return nil, Validation("level", "level must be project or issue")
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, workspace_id, name, color, level, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		id, rc.WorkspaceID, strings.TrimSpace(in.Name), strings.ToLower(in.Color), in.Level, rc.UserID, now)
	if err != nil {
		return nil, Database("create label", err)
	}
	return map[string]interface{}{
		"id":           id,
		"workspace_id": rc.WorkspaceID,
		"name":         strings.TrimSpace(in.Name),
		"color":        strings.ToLower(in.Color),
		"level":        in.Level,
		"created_at":   now,
	}, nil
}

func (s *Labels) Update(ctx context.Context, rc RequestContext, labelID uuid.UUID, in UpdateLabelInput) (interface{}, error) {
	if in.Name == nil && in.Color == nil && in.Level == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name", "label name is required")
	}
	if in.Color != nil && !hexColor.MatchString(*in.Color) {
		return nil, Validation("color", "color must be a hex value like #6e56cf")
	}
	if in.Level != nil && !validLabelLevel(*in.Level) {
		return nil, Validation("level", "level must be project or issue")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE labels
		SET name = COALESCE($1, name),
		    color = COALESCE($2, color),
		    level = COALESCE($3, level),
		    updated_at = $4
		WHERE id = $5 AND workspace_id = $6`,
		in.Name, in.Color, in.Level, now, labelID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("update label", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("label")
	}
	return s.get(ctx, rc, labelID)
}

func (s *Labels) Delete(ctx context.Context, rc RequestContext, labelID uuid.UUID) (interface{}, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM labels WHERE id = $1 AND workspace_id = $2`, labelID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("delete label", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("label")
	}
	return map[string]interface{}{"id": labelID, "deleted": true}, nil
}

func (s *Labels) Query(ctx context.Context, rc RequestContext, f LabelFilters) (interface{}, error) {
	query := `SELECT id, name, color, level, created_at, updated_at FROM labels WHERE workspace_id = $1`
	args := []interface{}{rc.WorkspaceID}

	if f.Level != nil {
		args = append(args, *f.Level)
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}
	if f.NamePattern != nil {
		args = append(args, "%"+*f.NamePattern+"%")
		query += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	if f.Color != nil {
		args = append(args, strings.ToLower(*f.Color))
		query += fmt.Sprintf(" AND color = $%d", len(args))
	}
	if f.CreatedAfter != nil {
		args = append(args, *f.CreatedAfter)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	if f.CreatedBefore != nil {
		args = append(args, *f.CreatedBefore)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

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
		return nil, Database("query labels", err)
	}
	defer rows.Close()

	labels := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id                   uuid.UUID
			name, color, level   string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &name, &color, &level, &createdAt, &updatedAt); err != nil {
			return nil, Database("scan label", err)
		}
		labels = append(labels, map[string]interface{}{
			"id": id, "name": name, "color": color, "level": level,
			"created_at": createdAt, "updated_at": updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query labels", err)
	}
	return map[string]interface{}{"labels": labels, "count": len(labels)}, nil
}

func (s *Labels) get(ctx context.Context, rc RequestContext, labelID uuid.UUID) (interface{}, error) {
	var (
		name, color, level   string
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, color, level, created_at, updated_at
		FROM labels WHERE id = $1 AND workspace_id = $2`, labelID, rc.WorkspaceID).
		Scan(&name, &color, &level, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("label")
	}
	if err != nil {
		return nil, Database("get label", err)
	}
	return map[string]interface{}{
		"id": labelID, "workspace_id": rc.WorkspaceID, "name": name, "color": color,
		"level": level, "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}
