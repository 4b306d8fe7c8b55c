package repository

import (
	"context"
	"encoding/json"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/database"
	"github.com/craftdesk/be-workflow-core/internal/policy"
)

// RuleRepository loads authorization rules from the policy_rules table. It
// implements policy.Source; mutation happens via migrations or admin tooling,
// the service itself only reads and reloads.
type RuleRepository struct {
	db *database.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// LoadActiveRules returns the active rules ordered by priority ascending.
func (r *RuleRepository) LoadActiveRules(ctx context.Context) ([]policy.Rule, error) {
	query := `
		SELECT rule_code, description, conditions, action, priority, active, version
		FROM policy_rules
		WHERE active = TRUE
		ORDER BY priority ASC, rule_code ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load policy rules")
	}
	defer rows.Close()

	var rules []policy.Rule
	for rows.Next() {
		var rule policy.Rule
		var conditionsJSON []byte
		if err := rows.Scan(
			&rule.Code,
			&rule.Description,
			&conditionsJSON,
			&rule.Action,
			&rule.Priority,
			&rule.Active,
			&rule.Version,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan policy rule")
		}
		if len(conditionsJSON) > 0 {
			if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
				return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal rule conditions")
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
