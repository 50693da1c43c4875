package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// CommandType enumerates every command the channel accepts. The set is
// closed: the dispatcher matches exhaustively and anything else is a
// validation failure before any collaborator runs.
type CommandType string

const (
	CmdCreateLabel       CommandType = "create_label"
	CmdUpdateLabel       CommandType = "update_label"
	CmdDeleteLabel       CommandType = "delete_label"
	CmdQueryLabels       CommandType = "query_labels"
	CmdBatchCreateLabels CommandType = "batch_create_labels"
	CmdBatchUpdateLabels CommandType = "batch_update_labels"
	CmdBatchDeleteLabels CommandType = "batch_delete_labels"

	CmdCreateTeam       CommandType = "create_team"
	CmdUpdateTeam       CommandType = "update_team"
	CmdDeleteTeam       CommandType = "delete_team"
	CmdQueryTeams       CommandType = "query_teams"
	CmdAddTeamMember    CommandType = "add_team_member"
	CmdUpdateTeamMember CommandType = "update_team_member"
	CmdRemoveTeamMember CommandType = "remove_team_member"
	CmdQueryTeamMembers CommandType = "query_team_members"

	CmdCreateWorkspace       CommandType = "create_workspace"
	CmdUpdateWorkspace       CommandType = "update_workspace"
	CmdDeleteWorkspace       CommandType = "delete_workspace"
	CmdGetWorkspace          CommandType = "get_workspace"
	CmdQueryWorkspaces       CommandType = "query_workspaces"
	CmdInviteWorkspaceMember CommandType = "invite_workspace_member"
	CmdAcceptInvitation      CommandType = "accept_invitation"
	CmdUpdateWorkspaceMember CommandType = "update_workspace_member"
	CmdRemoveWorkspaceMember CommandType = "remove_workspace_member"
	CmdQueryWorkspaceMembers CommandType = "query_workspace_members"

	CmdCreateProject CommandType = "create_project"
	CmdUpdateProject CommandType = "update_project"
	CmdDeleteProject CommandType = "delete_project"
	CmdQueryProjects CommandType = "query_projects"

	CmdCreateProjectStatus  CommandType = "create_project_status"
	CmdUpdateProjectStatus  CommandType = "update_project_status"
	CmdDeleteProjectStatus  CommandType = "delete_project_status"
	CmdQueryProjectStatuses CommandType = "query_project_statuses"

	CmdCreateIssue CommandType = "create_issue"
	CmdUpdateIssue CommandType = "update_issue"
	CmdDeleteIssue CommandType = "delete_issue"
	CmdQueryIssues CommandType = "query_issues"

	CmdGetProfile    CommandType = "get_profile"
	CmdUpdateProfile CommandType = "update_profile"

	CmdSubscribe         CommandType = "subscribe"
	CmdUnsubscribe       CommandType = "unsubscribe"
	CmdPing              CommandType = "ping"
	CmdGetConnectionInfo CommandType = "get_connection_info"
)

var knownCommands = map[CommandType]struct{}{
	CmdCreateLabel: {}, CmdUpdateLabel: {}, CmdDeleteLabel: {}, CmdQueryLabels: {},
	CmdBatchCreateLabels: {}, CmdBatchUpdateLabels: {}, CmdBatchDeleteLabels: {},
	CmdCreateTeam: {}, CmdUpdateTeam: {}, CmdDeleteTeam: {}, CmdQueryTeams: {},
	CmdAddTeamMember: {}, CmdUpdateTeamMember: {}, CmdRemoveTeamMember: {}, CmdQueryTeamMembers: {},
	CmdCreateWorkspace: {}, CmdUpdateWorkspace: {}, CmdDeleteWorkspace: {}, CmdGetWorkspace: {},
	CmdQueryWorkspaces: {}, CmdInviteWorkspaceMember: {}, CmdAcceptInvitation: {},
	CmdUpdateWorkspaceMember: {}, CmdRemoveWorkspaceMember: {}, CmdQueryWorkspaceMembers: {},
	CmdCreateProject: {}, CmdUpdateProject: {}, CmdDeleteProject: {}, CmdQueryProjects: {},
	CmdCreateProjectStatus: {}, CmdUpdateProjectStatus: {}, CmdDeleteProjectStatus: {}, CmdQueryProjectStatuses: {},
	CmdCreateIssue: {}, CmdUpdateIssue: {}, CmdDeleteIssue: {}, CmdQueryIssues: {},
	CmdGetProfile: {}, CmdUpdateProfile: {},
	CmdSubscribe: {}, CmdUnsubscribe: {}, CmdPing: {}, CmdGetConnectionInfo: {},
}

// workspaceExempt holds commands that run without a workspace on the
// connection: channel housekeeping plus the commands that exist to get a
// user INTO a workspace in the first place.
var workspaceExempt = map[CommandType]struct{}{
	CmdPing: {}, CmdSubscribe: {}, CmdUnsubscribe: {}, CmdGetConnectionInfo: {},
	CmdCreateWorkspace: {}, CmdQueryWorkspaces: {}, CmdAcceptInvitation: {},
	CmdGetProfile: {}, CmdUpdateProfile: {},
}

// mutationTopics maps mutating commands to the entity segment of their
// change-notification topic. Reads and channel commands do not broadcast.
var mutationTopics = map[CommandType]string{
	CmdCreateLabel: "labels", CmdUpdateLabel: "labels", CmdDeleteLabel: "labels",
	CmdBatchCreateLabels: "labels", CmdBatchUpdateLabels: "labels", CmdBatchDeleteLabels: "labels",
	CmdCreateTeam: "teams", CmdUpdateTeam: "teams", CmdDeleteTeam: "teams",
	CmdAddTeamMember: "teams", CmdUpdateTeamMember: "teams", CmdRemoveTeamMember: "teams",
	CmdUpdateWorkspace: "workspace", CmdDeleteWorkspace: "workspace",
	CmdInviteWorkspaceMember: "members", CmdUpdateWorkspaceMember: "members", CmdRemoveWorkspaceMember: "members",
	CmdCreateProject: "projects", CmdUpdateProject: "projects", CmdDeleteProject: "projects",
	CmdCreateProjectStatus: "project_statuses", CmdUpdateProjectStatus: "project_statuses", CmdDeleteProjectStatus: "project_statuses",
	CmdCreateIssue: "issues", CmdUpdateIssue: "issues", CmdDeleteIssue: "issues",
}

// Command is one decoded inbound command envelope. Raw keeps the full
// envelope bytes so the dispatcher can decode command-specific fields
// into their typed payloads after routing on Type.
type Command struct {
	Type           CommandType `json:"type"`
	IdempotencyKey string      `json:"idempotency_key"`
	RequestID      string      `json:"request_id,omitempty"`

	raw []byte
}

// ParseCommand decodes and structurally validates a command envelope.
func ParseCommand(data []byte) (*Command, *WireError) {
	var cmd Command
	if err := codec.Unmarshal(data, &cmd); err != nil {
		return nil, validationWireError("", "malformed command envelope")
	}
	if cmd.Type == "" {
		return nil, validationWireError("type", "command type is required")
	}
	if _, ok := knownCommands[cmd.Type]; !ok {
		return nil, validationWireError("type", fmt.Sprintf("unknown command type %q", cmd.Type))
	}
	if cmd.IdempotencyKey == "" {
		return nil, validationWireError("idempotency_key", "idempotency key is required")
	}
	cmd.raw = data
	return &cmd, nil
}

// Payload decodes the envelope's command-specific fields into dst.
func (c *Command) Payload(dst interface{}) *WireError {
	if err := codec.Unmarshal(c.raw, dst); err != nil {
		return validationWireError("", "malformed command payload")
	}
	return nil
}

// RequiresWorkspace reports whether the dispatcher must resolve a
// workspace before executing this command.
func (c *Command) RequiresWorkspace() bool {
	_, exempt := workspaceExempt[c.Type]
	return !exempt
}

// MutationTopic returns the change-notification entity for mutating
// commands, or false for commands that do not broadcast.
func (c *Command) MutationTopic() (string, bool) {
	topic, ok := mutationTopics[c.Type]
	return topic, ok
}

// BatchStats summarizes per-item outcomes of a batch command. Skipped
// counts items never attempted because the circuit opened mid-batch.
type BatchStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

// ResponseMeta carries execution diagnostics alongside the payload.
type ResponseMeta struct {
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	Pagination      interface{} `json:"pagination,omitempty"`
	TotalCount      *int64      `json:"total_count,omitempty"`
	BatchStats      *BatchStats `json:"batch_stats,omitempty"`
}

// Response is the outbound envelope for every command outcome, success
// or failure. Exactly one of Data and Error is set.
type Response struct {
	CommandType    CommandType   `json:"command_type"`
	IdempotencyKey string        `json:"idempotency_key"`
	RequestID      string        `json:"request_id,omitempty"`
	Success        bool          `json:"success"`
	Data           interface{}   `json:"data,omitempty"`
	Error          *WireError    `json:"error,omitempty"`
	Meta           *ResponseMeta `json:"meta,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

func successResponse(cmd *Command, data interface{}, elapsed time.Duration) *Response {
	return &Response{
		CommandType:    cmd.Type,
		IdempotencyKey: cmd.IdempotencyKey,
		RequestID:      cmd.RequestID,
		Success:        true,
		Data:           data,
		Meta:           &ResponseMeta{ExecutionTimeMs: elapsed.Milliseconds()},
		Timestamp:      time.Now().UTC(),
	}
}

func errorResponse(cmd *Command, wireErr *WireError) *Response {
	return &Response{
		CommandType:    cmd.Type,
		IdempotencyKey: cmd.IdempotencyKey,
		RequestID:      cmd.RequestID,
		Success:        false,
		Error:          wireErr,
		Timestamp:      time.Now().UTC(),
	}
}

// Encode marshals the response for the wire.
func (r *Response) Encode() ([]byte, error) {
	return codec.Marshal(r)
}

// SecureMessage is the signed outer envelope. Payload stays opaque bytes
// so signing and verification see the exact serialization the client sent.
type SecureMessage struct {
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature"`
}

// ParseSecureMessage decodes the outer signed envelope.
func ParseSecureMessage(data []byte) (*SecureMessage, error) {
	var msg SecureMessage
	if err := codec.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode secure message: %w", err)
	}
	if msg.MessageID == "" || msg.Signature == "" || len(msg.Payload) == 0 {
		return nil, fmt.Errorf("secure message missing required fields")
	}
	return &msg, nil
}
