package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/policy"
)

type stubSource struct {
	rules []policy.Rule
	err   error
}

func (s *stubSource) LoadActiveRules(context.Context) ([]policy.Rule, error) {
	return s.rules, s.err
}

func catchAll() policy.Rule {
	return policy.Rule{
		Code:     policy.DefaultAllowCode,
		Action:   policy.ActionAllow,
		Priority: 1000,
		Active:   true,
		Version:  1,
	}
}

func loadCatalog(t *testing.T, rules ...policy.Rule) *policy.Catalog {
	t.Helper()
	catalog := policy.NewCatalog(&stubSource{rules: rules}, zerolog.Nop())
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return catalog
}

func TestEvaluateFirstMatchByPriority(t *testing.T) {
	catalog := loadCatalog(t,
		policy.Rule{
			Code:       "ALLOW_EMPLOYEE",
			Action:     policy.ActionAllow,
			Priority:   5,
			Active:     true,
			Conditions: map[string]any{"role": "EMPLOYEE"},
		},
		policy.Rule{
			Code:       "DENY_EMPLOYEE",
			Action:     policy.ActionDeny,
			Priority:   1,
			Active:     true,
			Conditions: map[string]any{"role": "EMPLOYEE"},
		},
		catchAll(),
	)

	decision := catalog.Evaluate(policy.Context{Role: "EMPLOYEE"})
	if decision.Action != policy.ActionDeny || decision.RuleCode != "DENY_EMPLOYEE" {
		t.Errorf("got %+v, want DENY by DENY_EMPLOYEE", decision)
	}
}

func TestEvaluateAlwaysDecides(t *testing.T) {
	catalog := loadCatalog(t,
		policy.Rule{
			Code:       "DENY_GUESTS",
			Action:     policy.ActionDeny,
			Priority:   1,
			Active:     true,
			Conditions: map[string]any{"role": "GUEST"},
		},
		catchAll(),
	)

	contexts := []policy.Context{
		{},
		{Role: "EMPLOYEE", Action: "anything"},
		{Payload: map[string]any{"weird": []any{1, 2, 3}}},
	}
	for i, ctx := range contexts {
		decision := catalog.Evaluate(ctx)
		if decision.Action != policy.ActionAllow || decision.RuleCode != policy.DefaultAllowCode {
			t.Errorf("context %d: got %+v, want default allow", i, decision)
		}
	}
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	catalog := loadCatalog(t,
		policy.Rule{
			Code:       "DENY_ALL_DISABLED",
			Action:     policy.ActionDeny,
			Priority:   1,
			Active:     false,
			Conditions: map[string]any{},
		},
		catchAll(),
	)

	if decision := catalog.Evaluate(policy.Context{}); decision.Action != policy.ActionAllow {
		t.Errorf("inactive rule matched: %+v", decision)
	}
}

func TestEvaluateRequireApproval(t *testing.T) {
	catalog := loadCatalog(t,
		policy.Rule{
			Code:     "APPROVAL_BIG_BUDGET",
			Action:   policy.ActionRequireApproval,
			Priority: 10,
			Active:   true,
			Conditions: map[string]any{
				"payload": map[string]any{"budget": map[string]any{"$gt": 50000}},
			},
		},
		catchAll(),
	)

	decision := catalog.Evaluate(policy.Context{Payload: map[string]any{"budget": 80000}})
	if decision.Action != policy.ActionRequireApproval {
		t.Errorf("got %+v, want REQUIRE_APPROVAL", decision)
	}
	decision = catalog.Evaluate(policy.Context{Payload: map[string]any{"budget": 100}})
	if decision.Action != policy.ActionAllow {
		t.Errorf("got %+v, want default allow", decision)
	}
}

func TestBrokenConditionFailsOpen(t *testing.T) {
	// A rule with an uninterpretable condition never matches; evaluation
	// falls through to the catch-all instead of erroring.
	catalog := loadCatalog(t,
		policy.Rule{
			Code:       "DENY_BROKEN",
			Action:     policy.ActionDeny,
			Priority:   1,
			Active:     true,
			Conditions: map[string]any{"role": map[string]any{"$regex": ".*"}},
		},
		catchAll(),
	)

	if decision := catalog.Evaluate(policy.Context{Role: "EMPLOYEE"}); decision.Action != policy.ActionAllow {
		t.Errorf("broken rule decided: %+v", decision)
	}
}

func TestLoadEnforcesCatchAllInvariant(t *testing.T) {
	tests := []struct {
		name  string
		rules []policy.Rule
	}{
		{"empty catalog", nil},
		{"no unconditional allow at max priority", []policy.Rule{
			{Code: "DENY_TOP", Action: policy.ActionDeny, Priority: 100, Active: true},
		}},
		{"duplicate max priority", []policy.Rule{
			{Code: "A", Action: policy.ActionAllow, Priority: 100, Active: true},
			catchAll(),
			{Code: "Z", Action: policy.ActionAllow, Priority: 1000, Active: true},
		}},
		{"catch-all with conditions", []policy.Rule{
			{Code: "DEFAULT_ALLOW", Action: policy.ActionAllow, Priority: 1000, Active: true,
				Conditions: map[string]any{"role": "EMPLOYEE"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := policy.NewCatalog(&stubSource{rules: tt.rules}, zerolog.Nop())
			err := catalog.Load(context.Background())
			if !apperr.Is(err, apperr.ErrCodeConfiguration) {
				t.Errorf("Load() error = %v, want configuration error", err)
			}
		})
	}
}

func TestReloadSwapsCatalogAtomically(t *testing.T) {
	source := &stubSource{rules: []policy.Rule{
		{Code: "DENY_EMPLOYEE", Action: policy.ActionDeny, Priority: 1, Active: true,
			Conditions: map[string]any{"role": "EMPLOYEE"}},
		catchAll(),
	}}
	catalog := policy.NewCatalog(source, zerolog.Nop())
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx := policy.Context{Role: "EMPLOYEE"}
	if decision := catalog.Evaluate(ctx); decision.Action != policy.ActionDeny {
		t.Fatalf("before reload: %+v", decision)
	}

	source.rules = []policy.Rule{catchAll()}
	if err := catalog.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if decision := catalog.Evaluate(ctx); decision.Action != policy.ActionAllow {
		t.Errorf("after reload: %+v", decision)
	}
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	source := &stubSource{rules: []policy.Rule{
		{Code: "DENY_EMPLOYEE", Action: policy.ActionDeny, Priority: 1, Active: true,
			Conditions: map[string]any{"role": "EMPLOYEE"}},
		catchAll(),
	}}
	catalog := policy.NewCatalog(source, zerolog.Nop())
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	source.err = errors.New("database down")
	if err := catalog.Reload(context.Background()); err == nil {
		t.Fatal("Reload should have failed")
	}

	if decision := catalog.Evaluate(policy.Context{Role: "EMPLOYEE"}); decision.Action != policy.ActionDeny {
		t.Errorf("previous snapshot lost after failed reload: %+v", decision)
	}
}

func TestEvaluateUnloadedCatalogDefaultsToAllow(t *testing.T) {
	catalog := policy.NewCatalog(&stubSource{}, zerolog.Nop())
	decision := catalog.Evaluate(policy.Context{Role: "EMPLOYEE"})
	if decision.Action != policy.ActionAllow || decision.RuleCode != policy.DefaultAllowCode {
		t.Errorf("got %+v, want built-in default allow", decision)
	}
}
