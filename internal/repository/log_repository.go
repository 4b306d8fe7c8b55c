package repository

import (
	"context"
	"encoding/json"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/database"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

// LogRepository appends and reads the append-only workflow log. The table
// carries an update/delete-prevention trigger, so Append is the only
// mutation exposed.
type LogRepository struct {
	db *database.DB
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *database.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts one log entry.
func (r *LogRepository) Append(ctx context.Context, entry *workflow.LogEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal log details")
		}
	}

	query := `
		INSERT INTO workflow_log
		    (id, request_id, tenant_id, entity_type, entity_id,
		     action, from_state, to_state, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.TenantID,
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Action),
		entry.FromState,
		entry.ToState,
		entry.UserID,
		detailsJSON,
		entry.Timestamp,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to append workflow log entry")
	}
	return nil
}

// ListByEntity returns the log for an entity, newest first.
func (r *LogRepository) ListByEntity(ctx context.Context, tenantID string, entityType workflow.EntityType, entityID string) ([]*workflow.LogEntry, error) {
	query := `
		SELECT id, request_id, tenant_id, entity_type, entity_id,
		       action, from_state, to_state, user_id, details, created_at
		FROM workflow_log
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, tenantID, string(entityType), entityID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list workflow log")
	}
	defer rows.Close()

	var entries []*workflow.LogEntry
	for rows.Next() {
		entry := &workflow.LogEntry{}
		var entityTypeStr, action string
		var detailsJSON []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.TenantID,
			&entityTypeStr,
			&entry.EntityID,
			&action,
			&entry.FromState,
			&entry.ToState,
			&entry.UserID,
			&detailsJSON,
			&entry.Timestamp,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan workflow log entry")
		}
		entry.EntityType = workflow.EntityType(entityTypeStr)
		entry.Action = workflow.LogAction(action)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal log details")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
