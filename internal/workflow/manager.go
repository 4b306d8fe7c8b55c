package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
)

// OutcomeStatus tells the caller whether a requested transition was applied
// immediately or queued for approval.
type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "APPLIED"
	OutcomePending OutcomeStatus = "PENDING"
)

// RequestOutcome is the result of RequestTransition.
type RequestOutcome struct {
	Status    OutcomeStatus `json:"status"`
	RequestID string        `json:"request_id,omitempty"`
	FromState string        `json:"from_state"`
	ToState   string        `json:"to_state"`
}

// Event types published on the event bus.
const (
	EventTransitionApplied   = "transition_applied"
	EventTransitionRequested = "transition_requested"
	EventTransitionApproved  = "transition_approved"
	EventTransitionRejected  = "transition_rejected"
)

// Manager orchestrates transition requests and approvals: the engine
// validates, the entity store mutates, and every action appends to the
// workflow log. There is no path that mutates state without a log entry in
// the same logical operation.
type Manager struct {
	engine   *Engine
	entities EntityStore
	requests RequestStore
	logs     LogStore
	events   EventPublisher
	log      zerolog.Logger
}

// NewManager creates a Manager. events may be nil when no bus is configured.
func NewManager(
	engine *Engine,
	entities EntityStore,
	requests RequestStore,
	logs LogStore,
	events EventPublisher,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		engine:   engine,
		entities: entities,
		requests: requests,
		logs:     logs,
		events:   events,
		log:      log,
	}
}

// RequestTransition validates and either applies a transition immediately or
// queues it as a PENDING request when the approval matrix demands sign-off.
// meta is recorded in the log entry's details.
func (m *Manager) RequestTransition(
	ctx context.Context,
	tenantID string,
	entityType EntityType,
	entityID, toState string,
	requester Actor,
	meta map[string]any,
) (*RequestOutcome, error) {
	if !entityType.IsValid() {
		return nil, apperr.InvalidInput("entity_type", "must be TASK or PROJECT")
	}

	record, err := m.entities.Read(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if record.TenantID != tenantID {
		// Cross-tenant reads look like absence, not denial.
		return nil, apperr.NotFound(string(entityType), entityID)
	}
	fromState := record.State

	known, err := m.engine.HasState(ctx, tenantID, entityType, toState)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, apperr.InvalidInput("to_state", "unknown target state "+toState)
	}

	can, err := m.engine.CanTransition(ctx, tenantID, entityType, fromState, toState, requester.Role)
	if err != nil {
		return nil, err
	}
	if !can {
		return nil, apperr.Newf(apperr.ErrCodePermission,
			"role %s may not transition %s from %q to %q",
			requester.Role, entityType, fromState, toState)
	}

	needsApproval := m.engine.RequiresApproval(entityType, fromState, toState) &&
		!requester.Role.Elevated()

	if !needsApproval {
		if err := m.entities.Write(ctx, entityType, entityID, toState); err != nil {
			return nil, err
		}
		entry := m.appendLog(ctx, &LogEntry{
			TenantID:   tenantID,
			EntityType: entityType,
			EntityID:   entityID,
			Action:     LogApplied,
			FromState:  fromState,
			ToState:    toState,
			UserID:     requester.ID,
			Details:    meta,
		})
		m.publish(ctx, EventTransitionApplied, entry)

		m.log.Info().
			Str("tenant_id", tenantID).
			Str("entity_type", string(entityType)).
			Str("entity_id", entityID).
			Str("from", fromState).
			Str("to", toState).
			Msg("transition applied")

		return &RequestOutcome{Status: OutcomeApplied, FromState: fromState, ToState: toState}, nil
	}

	req := &TransitionRequest{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		EntityType:  entityType,
		EntityID:    entityID,
		FromState:   fromState,
		ToState:     toState,
		RequestedBy: requester.ID,
		Status:      StatusPending,
	}
	if err := m.requests.CreatePending(ctx, req); err != nil {
		return nil, err
	}

	entry := m.appendLog(ctx, &LogEntry{
		RequestID:  &req.ID,
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     LogRequested,
		FromState:  fromState,
		ToState:    toState,
		UserID:     requester.ID,
		Details:    meta,
	})
	m.publish(ctx, EventTransitionRequested, entry)

	m.log.Info().
		Str("tenant_id", tenantID).
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("request_id", req.ID).
		Str("from", fromState).
		Str("to", toState).
		Msg("transition queued for approval")

	return &RequestOutcome{
		Status:    OutcomePending,
		RequestID: req.ID,
		FromState: fromState,
		ToState:   toState,
	}, nil
}

// Approve decides a pending request. When approved the entity moves to the
// requested state; when rejected the entity is left untouched. Either way
// the request reaches a terminal status and a log entry is appended.
func (m *Manager) Approve(
	ctx context.Context,
	requestID string,
	approver Actor,
	approved bool,
	reason string,
) (*TransitionRequest, error) {
	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"transition request %s is not pending (status: %s)", requestID, req.Status)
	}
	if approver.ID == req.RequestedBy {
		return nil, apperr.PermissionDenied("requester may not approve their own transition request")
	}

	can, err := m.engine.CanTransition(ctx, req.TenantID, req.EntityType, req.FromState, req.ToState, approver.Role)
	if err != nil {
		return nil, err
	}
	if !can && !approver.Role.Elevated() {
		return nil, apperr.Newf(apperr.ErrCodePermission,
			"role %s may not decide %s transitions from %q to %q",
			approver.Role, req.EntityType, req.FromState, req.ToState)
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	if !approved {
		resolved, err := m.requests.Resolve(ctx, requestID, StatusRejected, approver.ID, reasonPtr)
		if err != nil {
			return nil, err
		}
		entry := m.appendLog(ctx, &LogEntry{
			RequestID:  &resolved.ID,
			TenantID:   resolved.TenantID,
			EntityType: resolved.EntityType,
			EntityID:   resolved.EntityID,
			Action:     LogRejected,
			FromState:  resolved.FromState,
			ToState:    resolved.ToState,
			UserID:     approver.ID,
			Details:    decisionDetails(approver, reason),
		})
		m.publish(ctx, EventTransitionRejected, entry)
		return resolved, nil
	}

	// The entity may have moved since the request was queued; applying the
	// stale transition would desynchronize state and log.
	record, err := m.entities.Read(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}
	if record.State != req.FromState {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"entity state changed from %q to %q since the request was created",
			req.FromState, record.State)
	}

	// Resolving first claims the request atomically; a concurrent approval
	// of the same request loses here with a conflict.
	resolved, err := m.requests.Resolve(ctx, requestID, StatusApproved, approver.ID, reasonPtr)
	if err != nil {
		return nil, err
	}
	if err := m.entities.Write(ctx, req.EntityType, req.EntityID, req.ToState); err != nil {
		// The request is already terminal; surface the failed mutation
		// loudly instead of pretending the transition happened.
		m.log.Error().Err(err).
			Str("request_id", requestID).
			Msg("entity write failed after request approval")
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to apply approved transition")
	}

	entry := m.appendLog(ctx, &LogEntry{
		RequestID:  &resolved.ID,
		TenantID:   resolved.TenantID,
		EntityType: resolved.EntityType,
		EntityID:   resolved.EntityID,
		Action:     LogApproved,
		FromState:  resolved.FromState,
		ToState:    resolved.ToState,
		UserID:     approver.ID,
		Details:    decisionDetails(approver, reason),
	})
	m.publish(ctx, EventTransitionApproved, entry)

	m.log.Info().
		Str("request_id", requestID).
		Str("entity_id", resolved.EntityID).
		Str("approved_by", approver.ID).
		Msg("transition request approved")

	return resolved, nil
}

// ListPending returns the pending requests role is entitled to decide within
// a tenant. The elevated role sees everything.
func (m *Manager) ListPending(ctx context.Context, tenantID string, role Role) ([]*TransitionRequest, error) {
	pending, err := m.requests.ListPending(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if role.Elevated() {
		return pending, nil
	}
	decidable := make([]*TransitionRequest, 0, len(pending))
	for _, req := range pending {
		can, err := m.engine.CanTransition(ctx, tenantID, req.EntityType, req.FromState, req.ToState, role)
		if err != nil {
			return nil, err
		}
		if can {
			decidable = append(decidable, req)
		}
	}
	return decidable, nil
}

// History returns the workflow log for an entity, newest first.
func (m *Manager) History(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]*LogEntry, error) {
	if !entityType.IsValid() {
		return nil, apperr.InvalidInput("entity_type", "must be TASK or PROJECT")
	}
	return m.logs.ListByEntity(ctx, tenantID, entityType, entityID)
}

// NextStates exposes the engine's UI affordance query.
func (m *Manager) NextStates(ctx context.Context, tenantID string, entityType EntityType, entityID string, role Role) ([]string, error) {
	record, err := m.entities.Read(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if record.TenantID != tenantID {
		return nil, apperr.NotFound(string(entityType), entityID)
	}
	return m.engine.NextStates(ctx, tenantID, entityType, record.State, role)
}

// appendLog writes a log entry, filling ID and timestamp. A failed append
// after a durable state change is logged and reported, never rolled back:
// the mutation it documents must stand.
func (m *Manager) appendLog(ctx context.Context, entry *LogEntry) *LogEntry {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	if err := m.logs.Append(ctx, entry); err != nil {
		m.log.Warn().Err(err).
			Str("entity_id", entry.EntityID).
			Str("action", string(entry.Action)).
			Msg("failed to append workflow log entry")
	}
	return entry
}

func (m *Manager) publish(ctx context.Context, eventType string, entry *LogEntry) {
	if m.events == nil {
		return
	}
	m.events.Publish(ctx, eventType, entry)
}

func decisionDetails(approver Actor, reason string) map[string]any {
	details := map[string]any{
		"decided_by_role": string(approver.Role),
	}
	if reason != "" {
		details["reason"] = reason
	}
	return details
}
