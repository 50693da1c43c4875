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

var teamKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,16}$`)

func validTeamRole(role string) bool {
	switch role {
	case "owner", "admin", "member":
		return true
	}
	return false
}

// Teams implements team and team-membership commands.
type Teams struct {
	db  *sql.DB
	log *zap.Logger
}

func NewTeams(db *sql.DB, log *zap.Logger) *Teams {
	return &Teams{db: db, log: log.With(zap.String("module", "teams"))}
}

func (s *Teams) Create(ctx context.Context, rc RequestContext, in CreateTeamInput) (interface{}, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Validation("name", "team name is required")
	}
	if !teamKeyPattern.MatchString(in.TeamKey) {
		return nil, Validation("team_key", "team key must be 1-16 alphanumeric, hyphen or underscore characters")
	}

	id := uuid.New()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Database("create team", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO teams (id, workspace_id, name, team_key, description, icon_url, is_private, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		id, rc.WorkspaceID, strings.TrimSpace(in.Name), strings.ToUpper(in.TeamKey),
		in.Description, in.IconURL, in.IsPrivate, now)
	if err != nil {
		return nil, Database("create team", err)
	}

	// The creator joins as owner in the same transaction.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_members (id, team_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, 'owner', $4)`,
		uuid.New(), id, rc.UserID, now)
	if err != nil {
		return nil, Database("create team", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, Database("create team", err)
	}

	return map[string]interface{}{
		"id":           id,
		"workspace_id": rc.WorkspaceID,
		"name":         strings.TrimSpace(in.Name),
		"team_key":     strings.ToUpper(in.TeamKey),
		"description":  in.Description,
		"icon_url":     in.IconURL,
		"is_private":   in.IsPrivate,
		"created_at":   now,
	}, nil
}

func (s *Teams) Update(ctx context.Context, rc RequestContext, teamID uuid.UUID, in UpdateTeamInput) (interface{}, error) {
	if in.Name == nil && in.TeamKey == nil && in.Description == nil && in.IconURL == nil && in.IsPrivate == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name", "team name is required")
	}
	if in.TeamKey != nil && !teamKeyPattern.MatchString(*in.TeamKey) {
		return nil, Validation("team_key", "team key must be 1-16 alphanumeric, hyphen or underscore characters")
	}
	var teamKey *string
	if in.TeamKey != nil {
		upper := strings.ToUpper(*in.TeamKey)
		teamKey = &upper
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE teams
		SET name = COALESCE($1, name),
		    team_key = COALESCE($2, team_key),
		    description = COALESCE($3, description),
		    icon_url = COALESCE($4, icon_url),
		    is_private = COALESCE($5, is_private),
		    updated_at = $6
		WHERE id = $7 AND workspace_id = $8`,
		in.Name, teamKey, in.Description, in.IconURL, in.IsPrivate,
		time.Now().UTC(), teamID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("update team", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("team")
	}
	return s.get(ctx, rc, teamID)
}

func (s *Teams) Delete(ctx context.Context, rc RequestContext, teamID uuid.UUID) (interface{}, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM teams WHERE id = $1 AND workspace_id = $2`, teamID, rc.WorkspaceID)
	if err != nil {
		return nil, Database("delete team", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("team")
	}
	return map[string]interface{}{"id": teamID, "deleted": true}, nil
}

func (s *Teams) Query(ctx context.Context, rc RequestContext) (interface{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.team_key, t.description, t.icon_url, t.is_private,
		       t.created_at, t.updated_at,
		       (SELECT COUNT(*) FROM team_members tm WHERE tm.team_id = t.id) AS member_count
		FROM teams t
		WHERE t.workspace_id = $1
		ORDER BY t.name ASC`, rc.WorkspaceID)
	if err != nil {
		return nil, Database("query teams", err)
	}
	defer rows.Close()

	teams := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id                   uuid.UUID
			name, teamKey        string
			description, iconURL sql.NullString
			isPrivate            bool
			createdAt, updatedAt time.Time
			memberCount          int
		)
		if err := rows.Scan(&id, &name, &teamKey, &description, &iconURL, &isPrivate,
			&createdAt, &updatedAt, &memberCount); err != nil {
			return nil, Database("scan team", err)
		}
		teams = append(teams, map[string]interface{}{
			"id": id, "name": name, "team_key": teamKey,
			"description": nullable(description), "icon_url": nullable(iconURL),
			"is_private": isPrivate, "member_count": memberCount,
			"created_at": createdAt, "updated_at": updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query teams", err)
	}
	return map[string]interface{}{"teams": teams, "count": len(teams)}, nil
}

func (s *Teams) AddMember(ctx context.Context, rc RequestContext, teamID uuid.UUID, in AddTeamMemberInput) (interface{}, error) {
	if in.UserID == uuid.Nil {
		return nil, Validation("user_id", "user id is required")
	}
	if !validTeamRole(in.Role) {
		return nil, Validation("role", "role must be owner, admin or member")
	}
	if exists, err := s.teamExists(ctx, rc, teamID); err != nil {
		return nil, err
	} else if !exists {
		return nil, NotFound("team")
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (id, team_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, teamID, in.UserID, in.Role, now)
	if err != nil {
		return nil, Database("add team member", err)
	}
	return map[string]interface{}{
		"id": id, "team_id": teamID, "user_id": in.UserID,
		"role": in.Role, "joined_at": now,
	}, nil
}

func (s *Teams) UpdateMember(ctx context.Context, rc RequestContext, teamID, userID uuid.UUID, in UpdateTeamMemberInput) (interface{}, error) {
	if !validTeamRole(in.Role) {
		return nil, Validation("role", "role must be owner, admin or member")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE team_members tm SET role = $1
		FROM teams t
		WHERE tm.team_id = t.id AND t.workspace_id = $2
		  AND tm.team_id = $3 AND tm.user_id = $4`,
		in.Role, rc.WorkspaceID, teamID, userID)
	if err != nil {
		return nil, Database("update team member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("team member")
	}
	return map[string]interface{}{
		"team_id": teamID, "user_id": userID, "role": in.Role,
	}, nil
}

func (s *Teams) RemoveMember(ctx context.Context, rc RequestContext, teamID, userID uuid.UUID) (interface{}, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM team_members tm
		USING teams t
		WHERE tm.team_id = t.id AND t.workspace_id = $1
		  AND tm.team_id = $2 AND tm.user_id = $3`,
		rc.WorkspaceID, teamID, userID)
	if err != nil {
		return nil, Database("remove team member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("team member")
	}
	return map[string]interface{}{"team_id": teamID, "user_id": userID, "removed": true}, nil
}

func (s *Teams) QueryMembers(ctx context.Context, rc RequestContext, teamID uuid.UUID) (interface{}, error) {
	if exists, err := s.teamExists(ctx, rc, teamID); err != nil {
		return nil, err
	} else if !exists {
		return nil, NotFound("team")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.id, tm.user_id, tm.role, tm.joined_at, u.username, u.name, u.avatar_url
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.joined_at ASC`, teamID)
	if err != nil {
		return nil, Database("query team members", err)
	}
	defer rows.Close()

	members := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id, userID      uuid.UUID
			role            string
			joinedAt        time.Time
			username, name  string
			avatarURL       sql.NullString
		)
		if err := rows.Scan(&id, &userID, &role, &joinedAt, &username, &name, &avatarURL); err != nil {
			return nil, Database("scan team member", err)
		}
		members = append(members, map[string]interface{}{
			"id": id, "user_id": userID, "role": role, "joined_at": joinedAt,
			"username": username, "name": name, "avatar_url": nullable(avatarURL),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Database("query team members", err)
	}
	return map[string]interface{}{"team_id": teamID, "members": members, "count": len(members)}, nil
}

func (s *Teams) teamExists(ctx context.Context, rc RequestContext, teamID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM teams WHERE id = $1 AND workspace_id = $2`, teamID, rc.WorkspaceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, Database("lookup team", err)
	}
	return true, nil
}

func (s *Teams) get(ctx context.Context, rc RequestContext, teamID uuid.UUID) (interface{}, error) {
	var (
		name, teamKey        string
		description, iconURL sql.NullString
		isPrivate            bool
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, team_key, description, icon_url, is_private, created_at, updated_at
		FROM teams WHERE id = $1 AND workspace_id = $2`, teamID, rc.WorkspaceID).
		Scan(&name, &teamKey, &description, &iconURL, &isPrivate, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("team")
	}
	if err != nil {
		return nil, Database("get team", err)
	}
	return map[string]interface{}{
		"id": teamID, "workspace_id": rc.WorkspaceID, "name": name, "team_key": teamKey,
		"description": nullable(description), "icon_url": nullable(iconURL),
		"is_private": isPrivate, "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}

func nullable(s sql.NullString) interface{} {
	if s.Valid {
		return s.String
	}
	return nil
}
