package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Validation runs before any storage access, so these paths are
// exercised with a nil handle.

func testRC() RequestContext {
	return RequestContext{UserID: uuid.New(), WorkspaceID: uuid.New()}
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	svcErr := AsError(err)
	assert.Equal(t, KindValidation, svcErr.Kind)
	assert.Equal(t, field, svcErr.Field)
}

func TestLabelValidation(t *testing.T) {
	labels := NewLabels(nil, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name      string
		input     CreateLabelInput
		wantField string
	}{
		{"empty name", CreateLabelInput{Name: "  ", Color: "#ff0000", Level: "issue"}, "name"},
		{"missing hash", CreateLabelInput{Name: "bug", Color: "ff0000", Level: "issue"}, "color"},
		{"short hex", CreateLabelInput{Name: "bug", Color: "#fff", Level: "issue"}, "color"},
		{"non hex chars", CreateLabelInput{Name: "bug", Color: "#zzzzzz", Level: "issue"}, "color"},
		{"bad level", CreateLabelInput{Name: "bug", Color: "#ff0000", Level: "epic"}, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := labels.Create(ctx, testRC(), tt.input)
			requireValidation(t, err, tt.wantField)
		})
	}
}

func TestLabelUpdateRequiresFields(t *testing.T) {
	labels := NewLabels(nil, zap.NewNop())

	_, err := labels.Update(context.Background(), testRC(), uuid.New(), UpdateLabelInput{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsError(err).Kind)
}

func TestTeamValidation(t *testing.T) {
	teams := NewTeams(nil, zap.NewNop())
	ctx := context.Background()

	_, err := teams.Create(ctx, testRC(), CreateTeamInput{Name: "", TeamKey: "ENG"})
	requireValidation(t, err, "name")

	for _, key := range []string{"", "has space", "way-too-long-team-key", "bad!chars"} {
		_, err := teams.Create(ctx, testRC(), CreateTeamInput{Name: "Engineering", TeamKey: key})
		requireValidation(t, err, "team_key")
	}

	_, err = teams.AddMember(ctx, testRC(), uuid.New(), AddTeamMemberInput{UserID: uuid.Nil, Role: "member"})
	requireValidation(t, err, "user_id")

	_, err = teams.AddMember(ctx, testRC(), uuid.New(), AddTeamMemberInput{UserID: uuid.New(), Role: "superuser"})
	requireValidation(t, err, "role")
}

func TestWorkspaceValidation(t *testing.T) {
	workspaces := NewWorkspaces(nil, zap.NewNop())
	ctx := context.Background()

	_, err := workspaces.Create(ctx, uuid.New(), CreateWorkspaceInput{Name: "", URLKey: "acme"})
	requireValidation(t, err, "name")

	for _, key := range []string{"ab", "UPPER", "has space", "-leading", "trailing-"} {
		_, err := workspaces.Create(ctx, uuid.New(), CreateWorkspaceInput{Name: "Acme", URLKey: key})
		requireValidation(t, err, "url_key")
	}
}

func TestMemberValidation(t *testing.T) {
	members := NewMembers(nil, zap.NewNop())
	ctx := context.Background()

	_, err := members.Invite(ctx, testRC(), InviteWorkspaceMemberInput{Email: "not-an-email", Role: "member"})
	requireValidation(t, err, "email")

	_, err = members.Invite(ctx, testRC(), InviteWorkspaceMemberInput{Email: "a@b.com", Role: "superuser"})
	requireValidation(t, err, "role")

	_, err = members.Invite(ctx, testRC(), InviteWorkspaceMemberInput{Email: "a@b.com", Role: "owner"})
	requireValidation(t, err, "role")

	_, err = members.AcceptInvitation(ctx, uuid.New(), uuid.Nil)
	requireValidation(t, err, "token")

	_, err = members.UpdateRole(ctx, testRC(), uuid.New(), "superuser")
	requireValidation(t, err, "role")
}

func TestMemberCannotRemoveSelf(t *testing.T) {
	members := NewMembers(nil, zap.NewNop())
	rc := testRC()

	_, err := members.Remove(context.Background(), rc, rc.UserID)
	require.Error(t, err)
	assert.Equal(t, KindConflict, AsError(err).Kind)
}

func TestProjectValidation(t *testing.T) {
	projects := NewProjects(nil, zap.NewNop())
	ctx := context.Background()

	_, err := projects.Create(ctx, testRC(), CreateProjectInput{Name: "", ProjectKey: "WEB"})
	requireValidation(t, err, "name")

	for _, key := range []string{"", "web", "1WEB", "TOOLONGKEY1"} {
		_, err := projects.Create(ctx, testRC(), CreateProjectInput{Name: "Website", ProjectKey: key})
		requireValidation(t, err, "project_key")
	}

	critical := "critical"
	_, err = projects.Create(ctx, testRC(), CreateProjectInput{Name: "Website", ProjectKey: "WEB", Priority: &critical})
	requireValidation(t, err, "priority")
}

func TestProjectStatusValidation(t *testing.T) {
	statuses := NewProjectStatuses(nil, zap.NewNop())
	ctx := context.Background()

	_, err := statuses.Create(ctx, testRC(), CreateProjectStatusInput{Name: "Doing", Color: "#ff0000", Category: "doing"})
	requireValidation(t, err, "category")

	for _, category := range []string{"backlog", "planned", "in_progress", "completed", "canceled"} {
		_, err := statuses.Create(ctx, testRC(), CreateProjectStatusInput{Name: "S", Color: "bad", Category: category})
		requireValidation(t, err, "color")
	}
}

func TestIssueValidation(t *testing.T) {
	issues := NewIssues(nil, zap.NewNop())
	ctx := context.Background()

	_, err := issues.Create(ctx, testRC(), CreateIssueInput{Title: " ", TeamID: uuid.New()})
	requireValidation(t, err, "title")

	_, err = issues.Create(ctx, testRC(), CreateIssueInput{Title: "Fix login", TeamID: uuid.Nil})
	requireValidation(t, err, "team_id")

	blocker := "blocker"
	_, err = issues.Create(ctx, testRC(), CreateIssueInput{Title: "Fix login", TeamID: uuid.New(), Priority: &blocker})
	requireValidation(t, err, "priority")
}

func TestProfileValidation(t *testing.T) {
	profile := NewProfile(nil, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	_, err := profile.Update(ctx, userID, UpdateProfileInput{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsError(err).Kind)

	for _, username := range []string{"ab", "Upper", "has space", "_leading"} {
		u := username
		_, err := profile.Update(ctx, userID, UpdateProfileInput{Username: &u})
		requireValidation(t, err, "username")
	}

	badEmail := "nope"
	_, err = profile.Update(ctx, userID, UpdateProfileInput{Email: &badEmail})
	requireValidation(t, err, "email")
}
