// Package policy implements the declarative authorization rule engine: a
// prioritized catalog of rules whose condition trees are parsed once at load
// time and evaluated against a request context.
package policy

// Action is the outcome a rule produces when it matches.
type Action string

const (
	// ActionAllow grants the action.
	ActionAllow Action = "ALLOW"
	// ActionDeny blocks the action.
	ActionDeny Action = "DENY"
	// ActionRequireApproval defers the action to the approval workflow.
	ActionRequireApproval Action = "REQUIRE_APPROVAL"
)

// IsValid returns true when the action is one of the supported values.
func (a Action) IsValid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionRequireApproval:
		return true
	default:
		return false
	}
}

// DefaultAllowCode is the rule code of the mandatory catch-all rule. The
// catalog refuses to load unless exactly one always-true ALLOW rule holds the
// maximum priority, so evaluation is total by construction.
const DefaultAllowCode = "DEFAULT_ALLOW"

// Rule is one declarative authorization rule. Conditions hold the raw
// condition tree as decoded from JSON or YAML; the catalog compiles it once.
type Rule struct {
	Code        string         `json:"rule_code" yaml:"code"`
	Description string         `json:"description" yaml:"description"`
	Conditions  map[string]any `json:"conditions" yaml:"conditions"`
	Action      Action         `json:"action" yaml:"action"`
	Priority    int            `json:"priority" yaml:"priority"`
	Active      bool           `json:"active" yaml:"active"`
	Version     int            `json:"version" yaml:"version"`
}

// Context is the evaluation input: the caller's identity plus the request
// payload for field-level checks.
type Context struct {
	TenantID string
	UserID   string
	Role     string
	Action   string
	Payload  map[string]any
}

// bag flattens the context into the key/value form the matcher and the
// placeholder resolver operate on.
func (c Context) bag() map[string]any {
	return map[string]any{
		"tenantId": c.TenantID,
		"userId":   c.UserID,
		"role":     c.Role,
		"action":   c.Action,
		"payload":  c.Payload,
	}
}

// Decision is the result of evaluating the catalog against a context.
type Decision struct {
	Action   Action `json:"action"`
	RuleCode string `json:"rule_code"`
}
