package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/loopwork/realtime/internal/service"
)

// Collaborator interfaces. The dispatcher routes each command variant to
// exactly one of these; tests substitute fakes.

type LabelCollaborator interface {
	Create(ctx context.Context, rc service.RequestContext, in service.CreateLabelInput) (interface{}, error)
	Update(ctx context.Context, rc service.RequestContext, labelID uuid.UUID, in service.UpdateLabelInput) (interface{}, error)
	Delete(ctx context.Context, rc service.RequestContext, labelID uuid.UUID) (interface{}, error)
	Query(ctx context.Context, rc service.RequestContext, f service.LabelFilters) (interface{}, error)
}

type TeamCollaborator interface {
	Create(ctx context.Context, rc service.RequestContext, in service.CreateTeamInput) (interface{}, error)
	Update(ctx context.Context, rc service.RequestContext, teamID uuid.UUID, in service.UpdateTeamInput) (interface{}, error)
	Delete(ctx context.Context, rc service.RequestContext, teamID uuid.UUID) (interface{}, error)
	Query(ctx context.Context, rc service.RequestContext) (interface{}, error)
	AddMember(ctx context.Context, rc service.RequestContext, teamID uuid.UUID, in service.AddTeamMemberInput) (interface{}, error)
	UpdateMember(ctx context.Context, rc service.RequestContext, teamID, userID uuid.UUID, in service.UpdateTeamMemberInput) (interface{}, error)
	RemoveMember(ctx context.Context, rc service.RequestContext, teamID, userID uuid.UUID) (interface{}, error)
	QueryMembers(ctx context.Context, rc service.RequestContext, teamID uuid.UUID) (interface{}, error)
}

type WorkspaceCollaborator interface {
	Create(ctx context.Context, userID uuid.UUID, in service.CreateWorkspaceInput) (interface{}, error)
	Update(ctx context.Context, rc service.RequestContext, in service.UpdateWorkspaceInput) (interface{}, error)
	Delete(ctx context.Context, rc service.RequestContext) (interface{}, error)
	Get(ctx context.Context, rc service.RequestContext) (interface{}, error)
	QueryMine(ctx context.Context, userID uuid.UUID) (interface{}, error)
}

type MemberCollaborator interface {
	Invite(ctx context.Context, rc service.RequestContext, in service.InviteWorkspaceMemberInput) (interface{}, error)
	AcceptInvitation(ctx context.Context, userID uuid.UUID, token uuid.UUID) (interface{}, error)
	UpdateRole(ctx context.Context, rc service.RequestContext, userID uuid.UUID, role string) (interface{}, error)
	Remove(ctx context.Context, rc service.RequestContext, userID uuid.UUID) (interface{}, error)
	Query(ctx context.Context, rc service.RequestContext, f service.WorkspaceMemberFilters) (interface{}, error)
}

type ProjectCollaborator interface {
	Create(ctx context.Context, rc service.RequestContext, in service.CreateProjectInput) (interface{}, error)
	Update(ctx context.Context, rc service.RequestContext, projectID uuid.UUID, in service.UpdateProjectInput) (interface{}, error)
	Delete(ctx context.Context, rc service.RequestContext, projectID uuid.UUID) (interface{}, error)
	Query(ctx context.Context, rc service.RequestContext, f service.ProjectFilters) (interface{}, error)
}

type ProjectStatusCollaborator interface {
	Create(ctx context.Context, rc service.RequestContext, in service.CreateProjectStatusInput) (interface{}, error)
	Update(ctx context.Context, rc service.RequestContext, statusID uuid.UUID, in service.UpdateProjectStatusInput) (interface{}, error)
	Delete(ctx context.Context, rc service.RequestContext, statusID uuid.UUID) (interface{}, error)
	Query(ctx context.Context, rc service.RequestContext) (interface{}, error)
}

type IssueCollaborator interface {
	Create(ctx context.Context, rc service.RequestContext, in service.CreateIssueInput) (interface{}, error)
	Update(ctx context.Context, rc service.RequestContext, issueID uuid.UUID, in service.UpdateIssueInput) (interface{}, error)
	Delete(ctx context.Context, rc service.RequestContext, issueID uuid.UUID) (interface{}, error)
	Query(ctx context.Context, rc service.RequestContext, f service.IssueFilters) (interface{}, error)
}

type ProfileCollaborator interface {
	Get(ctx context.Context, userID uuid.UUID) (interface{}, error)
	Update(ctx context.Context, userID uuid.UUID, in service.UpdateProfileInput) (interface{}, error)
}

// Collaborators bundles every business service the dispatcher routes to.
type Collaborators struct {
	Labels          LabelCollaborator
	Teams           TeamCollaborator
	Workspaces      WorkspaceCollaborator
	Members         MemberCollaborator
	Projects        ProjectCollaborator
	ProjectStatuses ProjectStatusCollaborator
	Issues          IssueCollaborator
	Profile         ProfileCollaborator
}

// Command-specific payload shapes. Fields arrive flat in the command
// envelope alongside type and idempotency_key.

type updateLabelPayload struct {
	LabelID uuid.UUID `json:"label_id"`
	service.UpdateLabelInput
}

type labelIDPayload struct {
	LabelID uuid.UUID `json:"label_id"`
}

type batchCreateLabelsPayload struct {
	Data []service.CreateLabelInput `json:"data"`
}

type batchUpdateLabelsPayload struct {
	Updates []service.LabelUpdate `json:"updates"`
}

type batchDeleteLabelsPayload struct {
	LabelIDs []uuid.UUID `json:"label_ids"`
}

// batchItemResult reports the outcome of one item in a batch command.
// Items keep their submission order.
type batchItemResult struct {
	Index   int         `json:"index"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *WireError  `json:"error,omitempty"`
}

type updateTeamPayload struct {
	TeamID uuid.UUID `json:"team_id"`
	service.UpdateTeamInput
}

type teamIDPayload struct {
	TeamID uuid.UUID `json:"team_id"`
}

type addTeamMemberPayload struct {
	TeamID uuid.UUID `json:"team_id"`
	service.AddTeamMemberInput
}

type teamMemberPayload struct {
	TeamID uuid.UUID `json:"team_id"`
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
}

type acceptInvitationPayload struct {
	Token uuid.UUID `json:"token"`
}

type workspaceMemberPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
}

type updateProjectPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
	service.UpdateProjectInput
}

type projectIDPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
}

type updateProjectStatusPayload struct {
	StatusID uuid.UUID `json:"status_id"`
	service.UpdateProjectStatusInput
}

type projectStatusIDPayload struct {
	StatusID uuid.UUID `json:"status_id"`
}

type updateIssuePayload struct {
	IssueID uuid.UUID `json:"issue_id"`
	service.UpdateIssueInput
}

type issueIDPayload struct {
	IssueID uuid.UUID `json:"issue_id"`
}

type topicPayload struct {
	Topic string `json:"topic"`
}

// Dispatcher runs the command pipeline: verify, idempotency, rate limit,
// authorize, execute, cache, respond. Collaborator calls go through a
// circuit breaker so a struggling store sheds load fast instead of
// stacking up blocked connections.
type Dispatcher struct {
	authenticator *MessageAuthenticator
	cache         *IdempotencyCache
	limiter       *RateLimiter
	registry      *Registry
	broadcaster   *Broadcaster
	collab        Collaborators
	breaker       *gobreaker.CircuitBreaker
	metrics       *Metrics
	log           *zap.Logger
}

func NewDispatcher(
	authenticator *MessageAuthenticator,
	cache *IdempotencyCache,
	limiter *RateLimiter,
	registry *Registry,
	broadcaster *Broadcaster,
	collab Collaborators,
	metrics *Metrics,
	log *zap.Logger,
) *Dispatcher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "collaborators",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Validation, not-found and permission outcomes are client errors;
		// only storage and internal failures count against the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind := service.AsError(err).Kind
			return kind != service.KindDatabase && kind != service.KindInternal
		},
	})
	return &Dispatcher{
		authenticator: authenticator,
		cache:         cache,
		limiter:       limiter,
		registry:      registry,
		broadcaster:   broadcaster,
		collab:        collab,
		breaker:       breaker,
		metrics:       metrics,
		log:           log.With(zap.String("module", "dispatcher")),
	}
}

// HandleMessage processes one raw inbound frame and returns the response
// plus whether the connection must be terminated. Security failures are
// the only terminal class.
func (d *Dispatcher) HandleMessage(ctx context.Context, conn *Connection, data []byte) (*Response, bool) {
	started := time.Now()

	msg, err := ParseSecureMessage(data)
	if err != nil {
		return &Response{
			Success:   false,
			Error:     validationWireError("", "malformed message envelope"),
			Timestamp: time.Now().UTC(),
		}, false
	}

	if err := d.authenticator.Verify(msg, conn.Principal.UserID); err != nil {
		wireErr := securityWireError(err)
		if d.metrics != nil {
			d.metrics.SecurityFailures.WithLabelValues(wireErr.Code).Inc()
		}
		d.log.Warn("message verification failed",
			zap.String("connection_id", conn.ID.String()),
			zap.String("user_id", conn.Principal.UserID.String()),
			zap.String("reason", wireErr.Code))
		return &Response{
			Success:   false,
			Error:     wireErr,
			Timestamp: time.Now().UTC(),
		}, true
	}

	cmd, wireErr := ParseCommand(msg.Payload)
	if wireErr != nil {
		return &Response{
			Success:   false,
			Error:     wireErr,
			Timestamp: time.Now().UTC(),
		}, false
	}

	if !conn.AcceptsCommands() {
		return errorResponse(cmd, &WireError{
			Code:      CodePermission,
			Message:   "connection does not accept commands in state " + conn.State().String(),
			ErrorType: errorTypeAuthorization,
		}), false
	}

	resp := d.dispatch(ctx, conn, cmd)

	if d.metrics != nil {
		result := "success"
		if !resp.Success {
			result = resp.Error.Code
		}
		d.metrics.CommandsTotal.WithLabelValues(string(cmd.Type), result).Inc()
		d.metrics.CommandDuration.Observe(time.Since(started).Seconds())
	}
	return resp, false
}

func (d *Dispatcher) dispatch(ctx context.Context, conn *Connection, cmd *Command) *Response {
	// Channel housekeeping never touches the idempotency cache; a ping
	// retried with the same key should answer with fresh state.
	if d.isChannelCommand(cmd.Type) {
		if admitted, retryAfter := d.limiter.Check(conn.Principal.UserID, cmd.Type); !admitted {
			if d.metrics != nil {
				d.metrics.RateLimited.Inc()
			}
			return errorResponse(cmd, rateLimitWireError(int64(retryAfter.Seconds())))
		}
		return d.executeChannel(conn, cmd)
	}

	if cached, ok := d.cache.Lookup(cmd.IdempotencyKey); ok {
		if d.metrics != nil {
			d.metrics.IdempotencyHits.Inc()
		}
		return cached
	}

	if admitted, retryAfter := d.limiter.Check(conn.Principal.UserID, cmd.Type); !admitted {
		if d.metrics != nil {
			d.metrics.RateLimited.Inc()
		}
		return errorResponse(cmd, rateLimitWireError(int64(retryAfter.Seconds())))
	}

	return d.cache.Do(cmd.IdempotencyKey, func() (*Response, bool) {
		started := time.Now()

		if cmd.RequiresWorkspace() && !conn.Principal.HasWorkspace() {
			// Not cached: the user may attach a workspace and retry the
			// same key.
			return errorResponse(cmd, noWorkspaceWireError()), false
		}

		var resp *Response
		if d.isBatchCommand(cmd.Type) {
			resp = d.executeBatch(ctx, conn, cmd)
		} else if data, wireErr := d.execute(ctx, conn, cmd); wireErr != nil {
			resp = errorResponse(cmd, wireErr)
		} else {
			resp = successResponse(cmd, data, time.Since(started))
		}

		// Publishing inside the single-flight closure ties the change event
		// to the execution: racing duplicates share the cached response
		// without re-broadcasting it.
		if resp.Success {
			d.afterSuccess(ctx, conn, cmd, resp)
		}
		return resp, true
	})
}

// afterSuccess publishes change notifications for mutations and keeps
// the connection principal in step with workspace-changing commands.
func (d *Dispatcher) afterSuccess(ctx context.Context, conn *Connection, cmd *Command, resp *Response) {
	switch cmd.Type {
	case CmdCreateWorkspace, CmdAcceptInvitation:
		if !conn.Principal.HasWorkspace() {
			if m, ok := resp.Data.(map[string]interface{}); ok {
				if id, ok := workspaceIDFromPayload(m); ok {
					conn.Principal.WorkspaceID = &id
				}
			}
		}
	}

	if entity, ok := cmd.MutationTopic(); ok && conn.Principal.HasWorkspace() && d.broadcaster != nil {
		wid := *conn.Principal.WorkspaceID
		d.broadcaster.Publish(ctx, Event{
			Topic:       EventTopic(wid, entity),
			Type:        string(cmd.Type),
			WorkspaceID: wid,
			Data:        resp.Data,
		})
	}
}

func workspaceIDFromPayload(m map[string]interface{}) (uuid.UUID, bool) {
	for _, key := range []string{"workspace_id", "id"} {
		switch v := m[key].(type) {
		case uuid.UUID:
			return v, true
		case string:
			if id, err := uuid.Parse(v); err == nil {
				return id, true
			}
		}
	}
	return uuid.Nil, false
}

func (d *Dispatcher) isBatchCommand(t CommandType) bool {
	switch t {
	case CmdBatchCreateLabels, CmdBatchUpdateLabels, CmdBatchDeleteLabels:
		return true
	}
	return false
}

// maxBatchSize caps the items accepted in one batch command.
const maxBatchSize = 50

// executeBatch runs a label batch command. Items execute independently
// and in order: a failing item is reported in its slot without aborting
// the rest. If the circuit opens mid-batch the remaining items are
// skipped, not failed, so the client can resubmit just those.
func (d *Dispatcher) executeBatch(ctx context.Context, conn *Connection, cmd *Command) *Response {
	started := time.Now()
	rc := service.RequestContext{
		UserID:      conn.Principal.UserID,
		WorkspaceID: *conn.Principal.WorkspaceID,
	}

	var items []func() (interface{}, error)
	switch cmd.Type {
	case CmdBatchCreateLabels:
		var p batchCreateLabelsPayload
		if wireErr := cmd.Payload(&p); wireErr != nil {
			return errorResponse(cmd, wireErr)
		}
		for _, in := range p.Data {
			in := in
			items = append(items, func() (interface{}, error) {
				return d.collab.Labels.Create(ctx, rc, in)
			})
		}
	case CmdBatchUpdateLabels:
		var p batchUpdateLabelsPayload
		if wireErr := cmd.Payload(&p); wireErr != nil {
			return errorResponse(cmd, wireErr)
		}
		for _, u := range p.Updates {
			u := u
			items = append(items, func() (interface{}, error) {
				return d.collab.Labels.Update(ctx, rc, u.LabelID, u.Data)
			})
		}
	case CmdBatchDeleteLabels:
		var p batchDeleteLabelsPayload
		if wireErr := cmd.Payload(&p); wireErr != nil {
			return errorResponse(cmd, wireErr)
		}
		for _, id := range p.LabelIDs {
			id := id
			items = append(items, func() (interface{}, error) {
				return d.collab.Labels.Delete(ctx, rc, id)
			})
		}
	}

	if len(items) == 0 {
		return errorResponse(cmd, validationWireError("", "batch contains no items"))
	}
	if len(items) > maxBatchSize {
		return errorResponse(cmd, validationWireError("",
			fmt.Sprintf("batch exceeds the limit of %d items", maxBatchSize)))
	}

	results := make([]batchItemResult, len(items))
	stats := &BatchStats{Total: int64(len(items))}
	for i, run := range items {
		data, err := d.breaker.Execute(run)
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				d.log.Warn("collaborator circuit open mid-batch",
					zap.String("command", string(cmd.Type)),
					zap.Int("completed", i))
				retryAfter := int64(15)
				for j := i; j < len(items); j++ {
					results[j] = batchItemResult{Index: j, Error: &WireError{
						Code:       CodeInternal,
						Message:    "service temporarily unavailable",
						ErrorType:  errorTypeInternal,
						RetryAfter: &retryAfter,
					}}
					stats.Skipped++
				}
				break
			}
			if kind := service.AsError(err).Kind; kind == service.KindDatabase || kind == service.KindInternal {
				d.log.Error("batch item failed",
					zap.String("command", string(cmd.Type)),
					zap.Int("index", i),
					zap.Error(err))
			}
			results[i] = batchItemResult{Index: i, Error: serviceWireError(err)}
			stats.Failed++
			continue
		}
		results[i] = batchItemResult{Index: i, Success: true, Data: data}
		stats.Successful++
	}

	resp := successResponse(cmd, map[string]interface{}{"results": results}, time.Since(started))
	resp.Meta.BatchStats = stats
	resp.Meta.TotalCount = &stats.Total
	return resp
}

func (d *Dispatcher) isChannelCommand(t CommandType) bool {
	switch t {
	case CmdPing, CmdSubscribe, CmdUnsubscribe, CmdGetConnectionInfo:
		return true
	}
	return false
}

func (d *Dispatcher) executeChannel(conn *Connection, cmd *Command) *Response {
	started := time.Now()
	switch cmd.Type {
	case CmdPing:
		conn.TouchPing()
		return successResponse(cmd, map[string]interface{}{
			"pong":        true,
			"server_time": time.Now().UTC(),
		}, time.Since(started))

	case CmdSubscribe, CmdUnsubscribe:
		var p topicPayload
		if wireErr := cmd.Payload(&p); wireErr != nil {
			return errorResponse(cmd, wireErr)
		}
		if p.Topic == "" {
			return errorResponse(cmd, validationWireError("topic", "topic is required"))
		}
		if cmd.Type == CmdSubscribe {
			conn.Subscribe(p.Topic)
		} else {
			conn.Unsubscribe(p.Topic)
		}
		return successResponse(cmd, map[string]interface{}{
			"topic":         p.Topic,
			"subscriptions": conn.Subscriptions(),
		}, time.Since(started))

	default: // CmdGetConnectionInfo
		return successResponse(cmd, map[string]interface{}{
			"connection_id":  conn.ID,
			"state":          conn.State().String(),
			"connected_at":   conn.ConnectedAt,
			"subscriptions":  conn.Subscriptions(),
			"last_ping":      conn.LastPing(),
			"queue_size":     conn.QueueSize(),
			"online_count":   d.registry.Count(),
			"rate_limits":    d.limiter.Stats(conn.Principal.UserID),
			"recovery_token": conn.RecoveryToken,
		}, time.Since(started))
	}
}

// execute routes the command to its collaborator. The match is
// exhaustive over the closed command set; ParseCommand has already
// rejected unknown types.
func (d *Dispatcher) execute(ctx context.Context, conn *Connection, cmd *Command) (interface{}, *WireError) {
	userID := conn.Principal.UserID
	var rc service.RequestContext
	if conn.Principal.HasWorkspace() {
		rc = service.RequestContext{UserID: userID, WorkspaceID: *conn.Principal.WorkspaceID}
	} else {
		rc = service.RequestContext{UserID: userID}
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		switch cmd.Type {
		case CmdCreateLabel:
			var in service.CreateLabelInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Labels.Create(ctx, rc, in)
		case CmdUpdateLabel:
			var p updateLabelPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Labels.Update(ctx, rc, p.LabelID, p.UpdateLabelInput)
		case CmdDeleteLabel:
			var p labelIDPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Labels.Delete(ctx, rc, p.LabelID)
		case CmdQueryLabels:
			var f service.LabelFilters
			if wireErr := cmd.Payload(&f); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Labels.Query(ctx, rc, f)

		case CmdCreateTeam:
			var in service.CreateTeamInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.Create(ctx, rc, in)
		case CmdUpdateTeam:
			var p updateTeamPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.Update(ctx, rc, p.TeamID, p.UpdateTeamInput)
		case CmdDeleteTeam:
			var p teamIDPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.Delete(ctx, rc, p.TeamID)
		case CmdQueryTeams:
			return d.collab.Teams.Query(ctx, rc)
		case CmdAddTeamMember:
			var p addTeamMemberPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.AddMember(ctx, rc, p.TeamID, p.AddTeamMemberInput)
		case CmdUpdateTeamMember:
			var p teamMemberPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.UpdateMember(ctx, rc, p.TeamID, p.UserID, service.UpdateTeamMemberInput{Role: p.Role})
		case CmdRemoveTeamMember:
			var p teamMemberPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.RemoveMember(ctx, rc, p.TeamID, p.UserID)
		case CmdQueryTeamMembers:
			var p teamIDPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Teams.QueryMembers(ctx, rc, p.TeamID)

		case CmdCreateWorkspace:
			var in service.CreateWorkspaceInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Workspaces.Create(ctx, userID, in)
		case CmdUpdateWorkspace:
			var in service.UpdateWorkspaceInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Workspaces.Update(ctx, rc, in)
		case CmdDeleteWorkspace:
			return d.collab.Workspaces.Delete(ctx, rc)
		case CmdGetWorkspace:
			return d.collab.Workspaces.Get(ctx, rc)
		case CmdQueryWorkspaces:
			return d.collab.Workspaces.QueryMine(ctx, userID)

		case CmdInviteWorkspaceMember:
			var in service.InviteWorkspaceMemberInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Members.Invite(ctx, rc, in)
		case CmdAcceptInvitation:
			var p acceptInvitationPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Members.AcceptInvitation(ctx, userID, p.Token)
		case CmdUpdateWorkspaceMember:
			var p workspaceMemberPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Members.UpdateRole(ctx, rc, p.UserID, p.Role)
		case CmdRemoveWorkspaceMember:
			var p workspaceMemberPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Members.Remove(ctx, rc, p.UserID)
		case CmdQueryWorkspaceMembers:
			var f service.WorkspaceMemberFilters
			if wireErr := cmd.Payload(&f); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Members.Query(ctx, rc, f)

		case CmdCreateProject:
			var in service.CreateProjectInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Projects.Create(ctx, rc, in)
		case CmdUpdateProject:
			var p updateProjectPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Projects.Update(ctx, rc, p.ProjectID, p.UpdateProjectInput)
		case CmdDeleteProject:
			var p projectIDPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Projects.Delete(ctx, rc, p.ProjectID)
		case CmdQueryProjects:
			var f service.ProjectFilters
			if wireErr := cmd.Payload(&f); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Projects.Query(ctx, rc, f)

		case CmdCreateProjectStatus:
			var in service.CreateProjectStatusInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.ProjectStatuses.Create(ctx, rc, in)
		case CmdUpdateProjectStatus:
			var p updateProjectStatusPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.ProjectStatuses.Update(ctx, rc, p.StatusID, p.UpdateProjectStatusInput)
		case CmdDeleteProjectStatus:
			var p projectStatusIDPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.ProjectStatuses.Delete(ctx, rc, p.StatusID)
		case CmdQueryProjectStatuses:
			return d.collab.ProjectStatuses.Query(ctx, rc)

		case CmdCreateIssue:
			var in service.CreateIssueInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Issues.Create(ctx, rc, in)
		case CmdUpdateIssue:
			var p updateIssuePayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Issues.Update(ctx, rc, p.IssueID, p.UpdateIssueInput)
		case CmdDeleteIssue:
			var p issueIDPayload
			if wireErr := cmd.Payload(&p); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Issues.Delete(ctx, rc, p.IssueID)
		case CmdQueryIssues:
			var f service.IssueFilters
			if wireErr := cmd.Payload(&f); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Issues.Query(ctx, rc, f)

		case CmdGetProfile:
			return d.collab.Profile.Get(ctx, userID)
		case CmdUpdateProfile:
			var in service.UpdateProfileInput
			if wireErr := cmd.Payload(&in); wireErr != nil {
				return nil, service.Validation("", wireErr.Message)
			}
			return d.collab.Profile.Update(ctx, userID, in)
		}
		return nil, service.Validation("type", "unroutable command type")
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			d.log.Warn("collaborator circuit open", zap.String("command", string(cmd.Type)))
			retryAfter := int64(15)
			return nil, &WireError{
				Code:       CodeInternal,
				Message:    "service temporarily unavailable",
				ErrorType:  errorTypeInternal,
				RetryAfter: &retryAfter,
			}
		}
		svcErr := service.AsError(err)
		if svcErr.Kind == service.KindDatabase || svcErr.Kind == service.KindInternal {
			d.log.Error("command execution failed",
				zap.String("command", string(cmd.Type)),
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		return nil, serviceWireError(err)
	}
	return result, nil
}
