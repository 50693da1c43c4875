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

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{2,31}$`)

// Profile implements user profile commands. Profile data is user-scoped,
// not workspace-scoped, so these run against the caller's own row only.
type Profile struct {
	db  *sql.DB
	log *zap.Logger
}

func NewProfile(db *sql.DB, log *zap.Logger) *Profile {
	return &Profile{db: db, log: log.With(zap.String("module", "profile"))}
}

func (s *Profile) Get(ctx context.Context, userID uuid.UUID) (interface{}, error) {
	var (
		username, name, email string
		avatarURL             sql.NullString
		createdAt, updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, name, email, avatar_url, created_at, updated_at
		FROM users WHERE id = $1`, userID).
		Scan(&username, &name, &email, &avatarURL, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("user")
	}
	if err != nil {
		return nil, Database("get profile", err)
	}
	return map[string]interface{}{
		"id": userID, "username": username, "name": name, "email": email,
		"avatar_url": nullable(avatarURL), "created_at": createdAt, "updated_at": updatedAt,
	}, nil
}

func (s *Profile) Update(ctx context.Context, userID uuid.UUID, in UpdateProfileInput) (interface{}, error) {
	if in.Name == nil && in.Username == nil && in.Email == nil && in.AvatarURL == nil {
		return nil, Validation("", "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name", "name is required")
	}
	if in.Username != nil && !usernamePattern.MatchString(*in.Username) {
		return nil, Validation("username", "username must be 3-32 lowercase alphanumeric or underscore characters")
	}
	if in.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, Validation("email", "a valid email address is required")
		}
		in.Email = &email
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = COALESCE($1, name),
		    username = COALESCE($2, username),
		    email = COALESCE($3, email),
		    avatar_url = COALESCE($4, avatar_url),
		    updated_at = $5
		WHERE id = $6`,
		in.Name, in.Username, in.Email, in.AvatarURL, time.Now().UTC(), userID)
	if err != nil {
		return nil, Database("update profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NotFound("user")
	}
	return s.Get(ctx, userID)
}
