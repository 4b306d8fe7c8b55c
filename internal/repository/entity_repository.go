package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/database"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

// EntityRepository is the entity-store adapter over the tasks and projects
// tables. The workflow core only ever touches the state column; everything
// else about those entities belongs to the CRUD services.
type EntityRepository struct {
	db *database.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *database.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

func tableFor(entityType workflow.EntityType) (string, error) {
	switch entityType {
	case workflow.EntityTask:
		return "tasks", nil
	case workflow.EntityProject:
		return "projects", nil
	default:
		return "", apperr.Newf(apperr.ErrCodeValidation, "unknown entity type %q", entityType)
	}
}

// Read returns the entity's tenant and current state.
func (r *EntityRepository) Read(ctx context.Context, entityType workflow.EntityType, entityID string) (*workflow.EntityRecord, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}

	record := &workflow.EntityRecord{ID: entityID}
	err = r.db.QueryRow(ctx,
		`SELECT tenant_id, state FROM `+table+` WHERE id = $1`,
		entityID,
	).Scan(&record.TenantID, &record.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(string(entityType), entityID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to read entity state")
	}
	return record, nil
}

// Write sets the entity's state. Atomic per call: a single UPDATE.
func (r *EntityRepository) Write(ctx context.Context, entityType workflow.EntityType, entityID, newState string) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE `+table+` SET state = $2, updated_at = NOW() WHERE id = $1`,
		entityID, newState,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to write entity state")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(string(entityType), entityID)
	}
	return nil
}
