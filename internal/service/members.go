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

func validWorkspaceRole(role string) bool {
	switch role {
	case "owner", "admin", "member", "guest":
		return true
	}
	return false
}

// Members implements workspace-membership commands: invitations, invitation
// acceptance, role changes, removal and listing.
type Members struct {
	db  *sql.DB
	log *zap.Logger
}

func NewMembers(db *sql.DB, log *zap.Logger) *Members {
	return &Members{db: db, log: log.With(zap.String("module", "members"))}
}

func (s *Members) Invite(ctx context.Context, rc RequestContext, in InviteWorkspaceMemberInput) (interface{}, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, Validation("email", "a valid email address is required")
	}
	if !validWorkspaceRole(in.Role) {
		return nil, Validation("role", "role must be owner, admin, member or guest")
	}
	if in.Role == "owner" {
		return nil, Validation("role", "ownership cannot be granted through an invitation")
	}

	id := uuid.New()
	token := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_invitations (id, workspace_id, email, role, token, invited_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rc.WorkspaceID, email, in.Role, token, rc.UserID, now, now.Add(7*24*time.Hour))
	if err != nil {
		return nil, Database("invite workspace member", err)
	}
	return map[string]interface{}{
		"id":           id,
		"workspace_id": rc.WorkspaceID,
		"email":        email,
		"role":         in.Role,
		"token":        token,
		"expires_at":   now.Add(7 * 24 * time.Hour),
	}, nil
}

// AcceptInvitation converts a pending invitation into an active membership.
// Runs without a workspace on the connection; the invitation token carries
// the workspace.
func (s *Members) AcceptInvitation(ctx context.Context, userID uuid.UUID, token uuid.UUID) (interface{}, error) {
	if token == uuid.Nil {
		return nil, Validation("token", "invitation token is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Database("accept invitation", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		invitationID, workspaceID uuid.UUID
		role                      string
		expiresAt                 time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, workspace_id, role, expires_at
		FROM workspace_invitations
		WHERE token = $1 AND accepted_at IS NULL
		FOR UPDATE`, token).Scan(&invitationID, &workspaceID, &role, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("invitation")
	}
	if err != nil {
		return nil, Database("accept invitation", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return nil, Conflict("invitation has expired")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role, status, joined_at)
		VALUES ($1, $2, $3, $4, 'active', $5)`,
		uuid.New(), workspaceID, userID, role, now)
	if err != nil {
		return nil, Database("accept invitation", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE workspace_invitations SET accepted_at = $1 WHERE id = $2`, now, invitationID)
	if err != nil {
		return nil, Database("accept invitation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, Database("accept invitation", err)
	}
	return map[string]interface{}{
		"workspace_id": workspaceID, "user_id": userID, "role": role, "joined_at": now,
	}, nil
}

func (s *Members) UpdateRole(ctx context.Context, rc RequestContext, userID uuid.UUID, role string) (interface{}, error) {
	if !validWorkspaceRole(role) {
		return nil, Validation("role", "role must be owner, admin, member or guest")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_members SET role = $1
		WHERE workspace_id = $2 AND user_id = $3 AND status = 'active'`,
		role, rc.WorkspaceID, userID)
	if err != nil {
		return nil, Database("update workspace member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("workspace member")
	}
	return map[string]interface{}{
		"workspace_id": rc.WorkspaceID, "user_id": userID, "role": role,
	}, nil
}

func (s *Members) Remove(ctx context.Context, rc RequestContext, userID uuid.UUID) (interface{}, error) {
	if userID == rc.UserID {
		return nil, Conflict("cannot remove yourself from the workspace")
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2`, rc.WorkspaceID, userID)
	if err != nil {
		return nil, Database("remove workspace member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("workspace member")
	}
	return map[string]interface{}{"workspace_id": rc.WorkspaceID, "user_id": userID, "removed": true}, nil
}

func (s *Members) Query(ctx context.Context, rc RequestContext, f WorkspaceMemberFilters) (interface{}, error) {
	query := `
		SELECT wm.id, wm.user_id, wm.role, wm.status, wm.joined_at,
		       u.username, u.name, u.email, u.avatar_url
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id = $1`
	args := []interface{}{rc.WorkspaceID}

	if f.Role != nil {
		args = append(args, *f.Role)
		query += fmt.Sprintf(" AND wm.role = $%d", len(args))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(" AND wm.user_id = $%d", len(args))
	}
	if f.Search != nil {
		args = append(args, "%"+*f.Search+"%")
		query += fmt.Sprintf(" AND (u.username ILIKE $%d OR u.name ILIKE $%d OR u.email ILIKE $%d)",
			len(args), len(args), len(args))
	}
	query += " ORDER BY wm.joined_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Database("query workspace members", err)
	}
	defer rows.Close()

	members := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id, userID            uuid.UUID
			role, status          string
			joinedAt              time.Time
			username, name, email string
			avatarURL             sql.NullString
		)
		if err := rows.Scan(&id, &userID, &role, &status, &joinedAt,
			&username, &name, &email, &avatarURL); err != nil {
			return nil, Database("scan workspace member", err)
		}
		members = append(members, map[string]interface{}{
			"id": id, "user_id": userID, "role": role, "status": status,
			"joined_at": joinedAt, "username": username, "name": name,
			"email": email, "avatar_url": nullable(avatarURL),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query workspace members", err)
	}
	return map[string]interface{}{"members": members, "count": len(members)}, nil
}

// IsActiveMember reports whether the user holds an active membership in the
// workspace. The websocket handshake checks token workspace claims against
// it so revoked members cannot keep commanding a workspace.
func (s *Members) IsActiveMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2 AND status = 'active'`,
		workspaceID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, Database("check workspace membership", err)
	}
	return true, nil
}
