package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/database"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index ux_transition_requests_pending on
// (tenant_id, entity_type, entity_id) WHERE status = 'PENDING'.
const uniqueViolation = "23505"

// RequestRepository persists transition requests. The pending-uniqueness
// invariant is enforced by the database, not by application-level ordering.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// CreatePending inserts a PENDING request. A concurrent or earlier pending
// request for the same entity surfaces as a conflict via the unique index.
func (r *RequestRepository) CreatePending(ctx context.Context, req *workflow.TransitionRequest) error {
	query := `
		INSERT INTO transition_requests
		    (id, tenant_id, entity_type, entity_id,
		     from_state, to_state, requested_by, status)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, 'PENDING')
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.TenantID,
		string(req.EntityType),
		req.EntityID,
		req.FromState,
		req.ToState,
		req.RequestedBy,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Newf(apperr.ErrCodeConflict,
			"a pending transition request already exists for %s %s", req.EntityType, req.EntityID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create transition request")
	}
	req.Status = workflow.StatusPending
	return nil
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*workflow.TransitionRequest, error) {
	query := selectRequest + ` WHERE id = $1`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("transition_request", id)
	}
	return req, err
}

// Resolve moves a PENDING request to a terminal status. The status guard in
// the WHERE clause closes the double-approve race: the second resolver sees
// zero rows and gets a conflict.
func (r *RequestRepository) Resolve(ctx context.Context, id string, status workflow.RequestStatus, decidedBy string, reason *string) (*workflow.TransitionRequest, error) {
	query := `
		UPDATE transition_requests
		SET status      = $2,
		    approved_by = $3,
		    reason      = $4,
		    updated_at  = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id, tenant_id, entity_type, entity_id,
		          from_state, to_state, requested_by, approved_by,
		          status, reason, created_at, updated_at
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id, string(status), decidedBy, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either absent or already terminal; look again to tell the two apart.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Newf(apperr.ErrCodeConflict, "transition request %s is not pending", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to resolve transition request")
	}
	return req, nil
}

// ListPending returns all pending requests for a tenant, oldest first.
func (r *RequestRepository) ListPending(ctx context.Context, tenantID string) ([]*workflow.TransitionRequest, error) {
	query := selectRequest + `
		WHERE tenant_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list pending requests")
	}
	defer rows.Close()

	var requests []*workflow.TransitionRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan transition request")
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

const selectRequest = `
	SELECT id, tenant_id, entity_type, entity_id,
	       from_state, to_state, requested_by, approved_by,
	       status, reason, created_at, updated_at
	FROM transition_requests
`

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row requestScanner) (*workflow.TransitionRequest, error) {
	req := &workflow.TransitionRequest{}
	var entityType, status string
	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&entityType,
		&req.EntityID,
		&req.FromState,
		&req.ToState,
		&req.RequestedBy,
		&req.ApprovedBy,
		&status,
		&req.Reason,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.EntityType = workflow.EntityType(entityType)
	req.Status = workflow.RequestStatus(status)
	return req, nil
}
