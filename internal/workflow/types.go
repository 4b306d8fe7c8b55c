package workflow

import (
	"context"
	"time"
)

// RequestStatus is the lifecycle of a transition request. A request is
// created PENDING and moves exactly once to a terminal status.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// LogAction classifies an entry in the workflow log.
type LogAction string

const (
	LogApplied   LogAction = "APPLIED"
	LogRequested LogAction = "REQUESTED"
	LogApproved  LogAction = "APPROVED"
	LogRejected  LogAction = "REJECTED"
)

// Actor is the caller identity as resolved by the authentication layer.
type Actor struct {
	ID   string
	Role Role
}

// TransitionRequest is a persisted, approvable proposal for a transition
// that requires sign-off.
type TransitionRequest struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	EntityType  EntityType    `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	FromState   string        `json:"from_state"`
	ToState     string        `json:"to_state"`
	RequestedBy string        `json:"requested_by"`
	ApprovedBy  *string       `json:"approved_by,omitempty"`
	Status      RequestStatus `json:"status"`
	Reason      *string       `json:"reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// LogEntry is one immutable record in the workflow log.
type LogEntry struct {
	ID         string         `json:"id"`
	RequestID  *string        `json:"request_id,omitempty"`
	TenantID   string         `json:"tenant_id"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     LogAction      `json:"action"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	UserID     string         `json:"user_id"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Definition is a per-tenant override of the default state graph and
// permission matrix for one entity type. It replaces the defaults for its
// (tenant, entityType) key outright; there is no deep merge.
type Definition struct {
	TenantID        string
	EntityType      EntityType
	States          []string
	RolePermissions map[Role]map[string][]string
}

// EntityRecord is the slice of an entity the workflow core needs.
type EntityRecord struct {
	ID       string
	TenantID string
	State    string
}

// ── collaborator ports ───────────────────────────────────────────────────────

// EntityStore reads and writes entity lifecycle state. Write must be atomic
// per call.
type EntityStore interface {
	Read(ctx context.Context, entityType EntityType, entityID string) (*EntityRecord, error)
	Write(ctx context.Context, entityType EntityType, entityID, newState string) error
}

// RequestStore persists transition requests. CreatePending must enforce the
// at-most-one-PENDING-per-entity invariant atomically (unique constraint or
// equivalent) and return a conflict error when it is violated.
type RequestStore interface {
	CreatePending(ctx context.Context, req *TransitionRequest) error
	GetByID(ctx context.Context, id string) (*TransitionRequest, error)
	// Resolve moves a PENDING request to a terminal status. It must fail
	// with a conflict when the request is no longer pending, closing the
	// double-approve race.
	Resolve(ctx context.Context, id string, status RequestStatus, decidedBy string, reason *string) (*TransitionRequest, error)
	ListPending(ctx context.Context, tenantID string) ([]*TransitionRequest, error)
}

// LogStore appends and reads the append-only workflow log.
type LogStore interface {
	Append(ctx context.Context, entry *LogEntry) error
	// ListByEntity returns entries ordered by timestamp descending.
	ListByEntity(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]*LogEntry, error)
}

// DefinitionSource loads per-tenant workflow definitions. A nil result with
// a nil error means the tenant uses the defaults.
type DefinitionSource interface {
	LoadDefinition(ctx context.Context, tenantID string, entityType EntityType) (*Definition, error)
}

// EventPublisher receives a notification for every workflow action.
// Implementations must be non-fatal: publishing failures never propagate.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, entry *LogEntry)
}
