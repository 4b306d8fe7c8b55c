package workflow

import (
	"context"
	"sort"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
)

// Engine is the pure state authority: canonical states, the role→transition
// permission matrix and the approval-required matrix, per entity type, with
// optional per-tenant overrides loaded from a DefinitionSource.
type Engine struct {
	defaults map[EntityType]*stateGraph
	approval map[EntityType]map[string]map[string]bool
	source   DefinitionSource
}

// NewEngine creates an engine with the compiled-in default graphs. source
// may be nil, in which case every tenant uses the defaults.
func NewEngine(source DefinitionSource) *Engine {
	return &Engine{
		defaults: defaultGraphs(),
		approval: defaultApproval(),
		source:   source,
	}
}

// graphFor resolves the state graph for a (tenant, entityType) key. A tenant
// definition replaces the default graph outright.
func (e *Engine) graphFor(ctx context.Context, tenantID string, entityType EntityType) (*stateGraph, error) {
	if !entityType.IsValid() {
		return nil, apperr.Newf(apperr.ErrCodeValidation, "unknown entity type %q", entityType)
	}
	if e.source != nil {
		def, err := e.source.LoadDefinition(ctx, tenantID, entityType)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load workflow definition")
		}
		if def != nil {
			if len(def.States) == 0 {
				return nil, apperr.Newf(apperr.ErrCodeConfiguration,
					"workflow definition for tenant %q entity type %q has no states", tenantID, entityType)
			}
			return buildGraph(def.States, def.RolePermissions), nil
		}
	}
	g, ok := e.defaults[entityType]
	if !ok {
		return nil, apperr.Newf(apperr.ErrCodeConfiguration,
			"no state graph registered for entity type %q", entityType)
	}
	return g, nil
}

// States returns the canonical ordered state list for a tenant and entity type.
func (e *Engine) States(ctx context.Context, tenantID string, entityType EntityType) ([]string, error) {
	g, err := e.graphFor(ctx, tenantID, entityType)
	if err != nil {
		return nil, err
	}
	return g.states, nil
}

// HasState reports whether state is a member of the entity type's state set.
func (e *Engine) HasState(ctx context.Context, tenantID string, entityType EntityType, state string) (bool, error) {
	g, err := e.graphFor(ctx, tenantID, entityType)
	if err != nil {
		return false, err
	}
	return g.hasState(state), nil
}

// CanTransition reports whether role may move an entity from one state to
// another. The elevated role may apply any transition present in the graph.
func (e *Engine) CanTransition(ctx context.Context, tenantID string, entityType EntityType, from, to string, role Role) (bool, error) {
	g, err := e.graphFor(ctx, tenantID, entityType)
	if err != nil {
		return false, err
	}
	return g.canTransition(role, from, to), nil
}

// RequiresApproval reports whether the transition must go through the
// request/approve flow. Elevated-role bypass is the manager's concern, not
// the matrix's.
func (e *Engine) RequiresApproval(entityType EntityType, from, to string) bool {
	return e.approval[entityType][from][to]
}

// NextStates returns the states role may move the entity to from its current
// state. Drives UI affordances, not enforcement.
func (e *Engine) NextStates(ctx context.Context, tenantID string, entityType EntityType, current string, role Role) ([]string, error) {
	g, err := e.graphFor(ctx, tenantID, entityType)
	if err != nil {
		return nil, err
	}
	next := g.nextStates(role, current)
	sort.Strings(next)
	return next, nil
}
