package service

import (
	"time"

	"github.com/google/uuid"
)

// Label payloads.

type CreateLabelInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Level string `json:"level"`
}

type UpdateLabelInput struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Level *string `json:"level,omitempty"`
}

type LabelFilters struct {
	Level         *string    `json:"level,omitempty"`
	NamePattern   *string    `json:"name_pattern,omitempty"`
	Color         *string    `json:"color,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
	Limit         *int       `json:"limit,omitempty"`
	Offset        *int       `json:"offset,omitempty"`
}

// LabelUpdate is one item of a batch label update.
type LabelUpdate struct {
	LabelID uuid.UUID        `json:"label_id"`
	Data    UpdateLabelInput `json:"data"`
}

// Team payloads.

type CreateTeamInput struct {
	Name        string  `json:"name"`
	TeamKey     string  `json:"team_key"`
	Description *string `json:"description,omitempty"`
	IconURL     *string `json:"icon_url,omitempty"`
	IsPrivate   bool    `json:"is_private"`
}

type UpdateTeamInput struct {
	Name        *string `json:"name,omitempty"`
	TeamKey     *string `json:"team_key,omitempty"`
	Description *string `json:"description,omitempty"`
	IconURL     *string `json:"icon_url,omitempty"`
	IsPrivate   *bool   `json:"is_private,omitempty"`
}

type AddTeamMemberInput struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

type UpdateTeamMemberInput struct {
	Role string `json:"role"`
}

// Workspace payloads.

type CreateWorkspaceInput struct {
	Name    string  `json:"name"`
	URLKey  string  `json:"url_key"`
	LogoURL *string `json:"logo_url,omitempty"`
}

type UpdateWorkspaceInput struct {
	Name    *string `json:"name,omitempty"`
	URLKey  *string `json:"url_key,omitempty"`
	LogoURL *string `json:"logo_url,omitempty"`
}

type InviteWorkspaceMemberInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type WorkspaceMemberFilters struct {
	Role   *string    `json:"role,omitempty"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Search *string    `json:"search,omitempty"`
}

// Project payloads.

type CreateProjectInput struct {
	Name        string     `json:"name"`
	ProjectKey  string     `json:"project_key"`
	Description *string    `json:"description,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	OwnerID     *uuid.UUID `json:"owner_id,omitempty"`
	StatusID    *uuid.UUID `json:"status_id,omitempty"`
}

type UpdateProjectInput struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	OwnerID     *uuid.UUID `json:"owner_id,omitempty"`
	StatusID    *uuid.UUID `json:"status_id,omitempty"`
}

type ProjectFilters struct {
	Search  *string    `json:"search,omitempty"`
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`
	Limit   *int       `json:"limit,omitempty"`
	Offset  *int       `json:"offset,omitempty"`
}

// Project status payloads.

type CreateProjectStatusInput struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Category string `json:"category"`
}

type UpdateProjectStatusInput struct {
	Name     *string `json:"name,omitempty"`
	Color    *string `json:"color,omitempty"`
	Category *string `json:"category,omitempty"`
}

// Issue payloads.

type CreateIssueInput struct {
	Title       string     `json:"title"`
	TeamID      uuid.UUID  `json:"team_id"`
	Description *string    `json:"description,omitempty"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
}

type UpdateIssueInput struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	TeamID      *uuid.UUID `json:"team_id,omitempty"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
}

type IssueFilters struct {
	TeamID     *uuid.UUID `json:"team_id,omitempty"`
	ProjectID  *uuid.UUID `json:"project_id,omitempty"`
	AssigneeID *uuid.UUID `json:"assignee_id,omitempty"`
	Priority   *string    `json:"priority,omitempty"`
	Search     *string    `json:"search,omitempty"`
	Limit      *int       `json:"limit,omitempty"`
	Offset     *int       `json:"offset,omitempty"`
}

// Profile payloads.

type UpdateProfileInput struct {
	Name      *string `json:"name,omitempty"`
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
