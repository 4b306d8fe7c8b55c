package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/database"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

// DefinitionRepository loads per-tenant workflow definitions. Rows are
// created by migration or seed and are read-only at request time.
type DefinitionRepository struct {
	db *database.DB
}

// NewDefinitionRepository creates a new DefinitionRepository.
func NewDefinitionRepository(db *database.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// LoadDefinition implements workflow.DefinitionSource. Returns (nil, nil)
// when the tenant has no override for the entity type.
func (r *DefinitionRepository) LoadDefinition(ctx context.Context, tenantID string, entityType workflow.EntityType) (*workflow.Definition, error) {
	query := `
		SELECT states, role_permissions
		FROM workflow_definitions
		WHERE tenant_id = $1 AND entity_type = $2
	`

	var statesJSON, permsJSON []byte
	err := r.db.QueryRow(ctx, query, tenantID, string(entityType)).Scan(&statesJSON, &permsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load workflow definition")
	}

	def := &workflow.Definition{TenantID: tenantID, EntityType: entityType}
	if err := json.Unmarshal(statesJSON, &def.States); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal definition states")
	}
	if err := json.Unmarshal(permsJSON, &def.RolePermissions); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal definition permissions")
	}
	return def, nil
}
