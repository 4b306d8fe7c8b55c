package workflow_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

type stubDefinitions struct {
	defs map[string]*workflow.Definition // key tenant/entityType
	err  error
}

func (s *stubDefinitions) LoadDefinition(_ context.Context, tenantID string, entityType workflow.EntityType) (*workflow.Definition, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.defs[tenantID+"/"+string(entityType)], nil
}

func TestCanTransitionDefaults(t *testing.T) {
	engine := workflow.NewEngine(nil)
	ctx := context.Background()

	tests := []struct {
		entityType workflow.EntityType
		from, to   string
		role       workflow.Role
		want       bool
	}{
		{workflow.EntityTask, workflow.TaskAssigned, workflow.TaskInProgress, workflow.RoleEmployee, true},
		{workflow.EntityTask, workflow.TaskCompleted, workflow.TaskClosed, workflow.RoleEmployee, false},
		{workflow.EntityTask, workflow.TaskCompleted, workflow.TaskClosed, workflow.RoleManager, true},
		{workflow.EntityTask, workflow.TaskDraft, workflow.TaskAssigned, workflow.RoleEmployee, false},
		{workflow.EntityTask, workflow.TaskDraft, workflow.TaskAssigned, workflow.RoleManager, true},
		{workflow.EntityTask, workflow.TaskInProgress, workflow.TaskReview, workflow.RoleEmployee, true},
		{workflow.EntityTask, workflow.TaskInProgress, workflow.TaskCompleted, workflow.RoleEmployee, true},
		// No skipping states.
		{workflow.EntityTask, workflow.TaskDraft, workflow.TaskCompleted, workflow.RoleManager, false},
		// Terminal state has no exits.
		{workflow.EntityTask, workflow.TaskClosed, workflow.TaskDraft, workflow.RoleManager, false},
		// Admin may apply anything in the graph, nothing outside it.
		{workflow.EntityTask, workflow.TaskDraft, workflow.TaskAssigned, workflow.RoleAdmin, true},
		{workflow.EntityTask, workflow.TaskDraft, workflow.TaskCompleted, workflow.RoleAdmin, false},
		{workflow.EntityProject, workflow.ProjectDraft, workflow.ProjectPendingApproval, workflow.RoleEmployee, true},
		{workflow.EntityProject, workflow.ProjectPendingApproval, workflow.ProjectActive, workflow.RoleEmployee, false},
		{workflow.EntityProject, workflow.ProjectPendingApproval, workflow.ProjectActive, workflow.RoleManager, true},
		{workflow.EntityProject, workflow.ProjectOnHold, workflow.ProjectActive, workflow.RoleManager, true},
		{workflow.EntityProject, workflow.ProjectCompleted, workflow.ProjectArchived, workflow.RoleManager, true},
	}

	for _, tt := range tests {
		got, err := engine.CanTransition(ctx, "t1", tt.entityType, tt.from, tt.to, tt.role)
		if err != nil {
			t.Fatalf("CanTransition(%v %q→%q %v): %v", tt.entityType, tt.from, tt.to, tt.role, err)
		}
		if got != tt.want {
			t.Errorf("CanTransition(%v %q→%q %v) = %v, want %v",
				tt.entityType, tt.from, tt.to, tt.role, got, tt.want)
		}
	}
}

func TestRequiresApprovalDefaults(t *testing.T) {
	engine := workflow.NewEngine(nil)

	tests := []struct {
		entityType workflow.EntityType
		from, to   string
		want       bool
	}{
		{workflow.EntityTask, workflow.TaskAssigned, workflow.TaskInProgress, false},
		{workflow.EntityTask, workflow.TaskInProgress, workflow.TaskCompleted, true},
		{workflow.EntityTask, workflow.TaskReview, workflow.TaskCompleted, true},
		{workflow.EntityTask, workflow.TaskCompleted, workflow.TaskClosed, false},
		{workflow.EntityProject, workflow.ProjectPendingApproval, workflow.ProjectActive, true},
		{workflow.EntityProject, workflow.ProjectCompleted, workflow.ProjectArchived, true},
		{workflow.EntityProject, workflow.ProjectActive, workflow.ProjectOnHold, false},
	}

	for _, tt := range tests {
		if got := engine.RequiresApproval(tt.entityType, tt.from, tt.to); got != tt.want {
			t.Errorf("RequiresApproval(%v %q→%q) = %v, want %v",
				tt.entityType, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNextStates(t *testing.T) {
	engine := workflow.NewEngine(nil)
	ctx := context.Background()

	next, err := engine.NextStates(ctx, "t1", workflow.EntityTask, workflow.TaskInProgress, workflow.RoleEmployee)
	if err != nil {
		t.Fatalf("NextStates: %v", err)
	}
	want := []string{workflow.TaskCompleted, workflow.TaskReview}
	if !reflect.DeepEqual(next, want) {
		t.Errorf("NextStates = %v, want %v", next, want)
	}

	next, err = engine.NextStates(ctx, "t1", workflow.EntityTask, workflow.TaskClosed, workflow.RoleManager)
	if err != nil {
		t.Fatalf("NextStates: %v", err)
	}
	if len(next) != 0 {
		t.Errorf("terminal state has next states: %v", next)
	}
}

func TestTenantOverrideReplacesDefaults(t *testing.T) {
	source := &stubDefinitions{defs: map[string]*workflow.Definition{
		"acme/TASK": {
			TenantID:   "acme",
			EntityType: workflow.EntityTask,
			States:     []string{"Open", "Done"},
			RolePermissions: map[workflow.Role]map[string][]string{
				workflow.RoleEmployee: {"Open": {"Done"}},
			},
		},
	}}
	engine := workflow.NewEngine(source)
	ctx := context.Background()

	// Override applies for its tenant.
	can, err := engine.CanTransition(ctx, "acme", workflow.EntityTask, "Open", "Done", workflow.RoleEmployee)
	if err != nil || !can {
		t.Errorf("override transition: can=%v err=%v", can, err)
	}

	// Replacement, not merge: the default graph is gone for this tenant.
	can, err = engine.CanTransition(ctx, "acme", workflow.EntityTask, workflow.TaskAssigned, workflow.TaskInProgress, workflow.RoleEmployee)
	if err != nil || can {
		t.Errorf("default transition should be gone: can=%v err=%v", can, err)
	}

	// A role absent from the override has no permissions.
	can, err = engine.CanTransition(ctx, "acme", workflow.EntityTask, "Open", "Done", workflow.RoleManager)
	if err != nil || can {
		t.Errorf("absent role should have no permissions: can=%v err=%v", can, err)
	}

	// The elevated role inherits the override's transition universe.
	can, err = engine.CanTransition(ctx, "acme", workflow.EntityTask, "Open", "Done", workflow.RoleAdmin)
	if err != nil || !can {
		t.Errorf("admin should cover override transitions: can=%v err=%v", can, err)
	}

	// Other tenants keep the defaults.
	can, err = engine.CanTransition(ctx, "globex", workflow.EntityTask, workflow.TaskAssigned, workflow.TaskInProgress, workflow.RoleEmployee)
	if err != nil || !can {
		t.Errorf("other tenant lost defaults: can=%v err=%v", can, err)
	}

	states, err := engine.States(ctx, "acme", workflow.EntityTask)
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if !reflect.DeepEqual(states, []string{"Open", "Done"}) {
		t.Errorf("States = %v", states)
	}
}

func TestUnknownEntityType(t *testing.T) {
	engine := workflow.NewEngine(nil)
	_, err := engine.States(context.Background(), "t1", workflow.EntityType("DOCUMENT"))
	if !apperr.Is(err, apperr.ErrCodeValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestEmptyOverrideIsConfigurationError(t *testing.T) {
	source := &stubDefinitions{defs: map[string]*workflow.Definition{
		"acme/TASK": {TenantID: "acme", EntityType: workflow.EntityTask},
	}}
	engine := workflow.NewEngine(source)
	_, err := engine.States(context.Background(), "acme", workflow.EntityTask)
	if !apperr.Is(err, apperr.ErrCodeConfiguration) {
		t.Errorf("got %v, want configuration error", err)
	}
}
