package policy_test

import (
	"testing"

	"github.com/craftdesk/be-workflow-core/internal/policy"
)

func mustParse(t *testing.T, raw map[string]any) *policy.Condition {
	t.Helper()
	cond, err := policy.ParseCondition(raw)
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}
	return cond
}

func TestConditionOperators(t *testing.T) {
	ctx := policy.Context{
		TenantID: "t1",
		UserID:   "u42",
		Role:     "EMPLOYEE",
		Action:   "task.update",
		Payload: map[string]any{
			"ownerId":  "u42",
			"priority": 3,
			"title":    "fix login",
			"labels":   map[string]any{"area": "auth"},
		},
	}

	tests := []struct {
		name string
		raw  map[string]any
		want bool
	}{
		{"empty condition always matches", map[string]any{}, true},
		{"bare equality", map[string]any{"role": "EMPLOYEE"}, true},
		{"bare equality mismatch", map[string]any{"role": "MANAGER"}, false},
		{"ne differs", map[string]any{"role": map[string]any{"$ne": "ADMIN"}}, true},
		{"ne same", map[string]any{"role": map[string]any{"$ne": "EMPLOYEE"}}, false},
		{"ne absent key matches", map[string]any{"missing": map[string]any{"$ne": "x"}}, true},
		{"in member", map[string]any{"role": map[string]any{"$in": []any{"EMPLOYEE", "MANAGER"}}}, true},
		{"in non-member", map[string]any{"role": map[string]any{"$in": []any{"ADMIN"}}}, false},
		{"in absent key", map[string]any{"missing": map[string]any{"$in": []any{"x"}}}, false},
		{"gt true", map[string]any{"payload": map[string]any{"priority": map[string]any{"$gt": 2}}}, true},
		{"gt false", map[string]any{"payload": map[string]any{"priority": map[string]any{"$gt": 3}}}, false},
		{"gte boundary", map[string]any{"payload": map[string]any{"priority": map[string]any{"$gte": 3}}}, true},
		{"lt false", map[string]any{"payload": map[string]any{"priority": map[string]any{"$lt": 3}}}, false},
		{"lte boundary", map[string]any{"payload": map[string]any{"priority": map[string]any{"$lte": 3}}}, true},
		{"numeric widening int vs float", map[string]any{"payload": map[string]any{"priority": 3.0}}, true},
		{"non-numeric comparison never matches", map[string]any{"payload": map[string]any{"title": map[string]any{"$gt": 1}}}, false},
		{"comparison with non-numeric operand never matches", map[string]any{"payload": map[string]any{"priority": map[string]any{"$gt": "high"}}}, false},
		{"exists true", map[string]any{"payload": map[string]any{"title": map[string]any{"$exists": true}}}, true},
		{"exists false on present", map[string]any{"payload": map[string]any{"title": map[string]any{"$exists": false}}}, false},
		{"exists false on absent", map[string]any{"payload": map[string]any{"dueDate": map[string]any{"$exists": false}}}, true},
		{"exists dotted path", map[string]any{"payload.labels.area": map[string]any{"$exists": true}}, true},
		{"nested group", map[string]any{"payload": map[string]any{"labels": map[string]any{"area": "auth"}}}, true},
		{"nested group mismatch", map[string]any{"payload": map[string]any{"labels": map[string]any{"area": "billing"}}}, false},
		{"or any branch", map[string]any{"$or": []any{
			map[string]any{"role": "ADMIN"},
			map[string]any{"role": "EMPLOYEE"},
		}}, true},
		{"or no branch", map[string]any{"$or": []any{
			map[string]any{"role": "ADMIN"},
			map[string]any{"role": "MANAGER"},
		}}, false},
		{"operator range conjunction", map[string]any{"payload": map[string]any{"priority": map[string]any{"$gte": 1, "$lt": 5}}}, true},
		{"placeholder owner check", map[string]any{"payload": map[string]any{"ownerId": "{{userId}}"}}, true},
		{"placeholder mismatch", map[string]any{"payload": map[string]any{"ownerId": "{{tenantId}}"}}, false},
		{"unresolvable placeholder never matches", map[string]any{"payload": map[string]any{"ownerId": "{{nope}}"}}, false},
		{"expr operator", map[string]any{"$expr": `role == "EMPLOYEE" && payload.priority >= 3`}, true},
		{"expr operator false", map[string]any{"$expr": `role == "ADMIN"`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustParse(t, tt.raw).Match(ctx); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseConditionRejectsUnknownOperators(t *testing.T) {
	malformed := []map[string]any{
		{"role": map[string]any{"$regex": "EMP.*"}},
		{"$nor": []any{map[string]any{"role": "ADMIN"}}},
		{"role": map[string]any{"$in": "not-a-list"}},
		{"payload": map[string]any{"title": map[string]any{"$exists": "yes"}}},
		{"$or": []any{"not-an-object"}},
		{"$expr": 7},
	}
	for i, raw := range malformed {
		if _, err := policy.ParseCondition(raw); err == nil {
			t.Errorf("case %d: expected parse error, got nil", i)
		}
	}
}

func TestPlaceholderResolvesBeforeMatching(t *testing.T) {
	// The same compiled condition must match per-context, not per-load.
	cond := mustParse(t, map[string]any{"payload": map[string]any{"ownerId": "{{userId}}"}})

	owner := policy.Context{UserID: "alice", Payload: map[string]any{"ownerId": "alice"}}
	stranger := policy.Context{UserID: "bob", Payload: map[string]any{"ownerId": "alice"}}

	if !cond.Match(owner) {
		t.Error("owner context should match")
	}
	if cond.Match(stranger) {
		t.Error("stranger context should not match")
	}
}
