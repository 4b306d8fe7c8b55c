// Package workflow implements the state-transition authority and the
// transition-request/approval manager with its append-only log.
package workflow

// EntityType identifies the kind of entity subject to lifecycle states.
type EntityType string

const (
	EntityTask    EntityType = "TASK"
	EntityProject EntityType = "PROJECT"
)

// IsValid returns true when the entity type is one of the supported values.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTask, EntityProject:
		return true
	default:
		return false
	}
}

// Role is a caller's workflow role.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleAdmin    Role = "ADMIN"
)

// Elevated reports whether the role bypasses the approval-required matrix and
// may decide any pending request.
func (r Role) Elevated() bool { return r == RoleAdmin }

// Task states.
const (
	TaskDraft      = "Draft"
	TaskAssigned   = "Assigned"
	TaskInProgress = "In Progress"
	TaskReview     = "Review"
	TaskCompleted  = "Completed"
	TaskClosed     = "Closed"
)

// Project states.
const (
	ProjectDraft           = "Draft"
	ProjectPendingApproval = "Pending Approval"
	ProjectActive          = "Active"
	ProjectOnHold          = "On Hold"
	ProjectCompleted       = "Completed"
	ProjectArchived        = "Archived"
)

// stateGraph holds the compiled lookup structures for one (tenant, entity
// type) pair: the canonical state list, per-role transition permissions and
// the union of all permitted transitions (the set the elevated role may
// apply).
type stateGraph struct {
	states      []string
	stateSet    map[string]bool
	rolePerms   map[Role]map[string]map[string]bool
	transitions map[string]map[string]bool
}

func buildGraph(states []string, rolePerms map[Role]map[string][]string) *stateGraph {
	g := &stateGraph{
		states:      states,
		stateSet:    make(map[string]bool, len(states)),
		rolePerms:   make(map[Role]map[string]map[string]bool, len(rolePerms)),
		transitions: make(map[string]map[string]bool),
	}
	for _, s := range states {
		g.stateSet[s] = true
	}
	for role, perms := range rolePerms {
		compiled := make(map[string]map[string]bool, len(perms))
		for from, tos := range perms {
			set := make(map[string]bool, len(tos))
			for _, to := range tos {
				set[to] = true
				if g.transitions[from] == nil {
					g.transitions[from] = make(map[string]bool)
				}
				g.transitions[from][to] = true
			}
			compiled[from] = set
		}
		g.rolePerms[role] = compiled
	}
	return g
}

func (g *stateGraph) hasState(s string) bool { return g.stateSet[s] }

func (g *stateGraph) canTransition(role Role, from, to string) bool {
	if role.Elevated() {
		return g.transitions[from][to]
	}
	return g.rolePerms[role][from][to]
}

func (g *stateGraph) nextStates(role Role, from string) []string {
	var source map[string]bool
	if role.Elevated() {
		source = g.transitions[from]
	} else {
		source = g.rolePerms[role][from]
	}
	next := make([]string, 0, len(source))
	for to := range source {
		next = append(next, to)
	}
	return next
}

// defaultGraphs compiles the shipped state graphs.
//
// TASK:    Draft → Assigned → In Progress → {Review, Completed};
//          Review → Completed; Completed → Closed.
// PROJECT: Draft → Pending Approval → Active → {On Hold, Completed};
//          On Hold → Active; Completed → Archived.
func defaultGraphs() map[EntityType]*stateGraph {
	managerTask := map[string][]string{
		TaskDraft:      {TaskAssigned},
		TaskAssigned:   {TaskInProgress},
		TaskInProgress: {TaskReview, TaskCompleted},
		TaskReview:     {TaskCompleted},
		TaskCompleted:  {TaskClosed},
	}
	employeeTask := map[string][]string{
		TaskAssigned:   {TaskInProgress},
		TaskInProgress: {TaskReview, TaskCompleted},
		TaskReview:     {TaskCompleted},
	}

	managerProject := map[string][]string{
		ProjectDraft:           {ProjectPendingApproval},
		ProjectPendingApproval: {ProjectActive},
		ProjectActive:          {ProjectOnHold, ProjectCompleted},
		ProjectOnHold:          {ProjectActive},
		ProjectCompleted:       {ProjectArchived},
	}
	employeeProject := map[string][]string{
		ProjectDraft: {ProjectPendingApproval},
	}

	return map[EntityType]*stateGraph{
		EntityTask: buildGraph(
			[]string{TaskDraft, TaskAssigned, TaskInProgress, TaskReview, TaskCompleted, TaskClosed},
			map[Role]map[string][]string{
				RoleEmployee: employeeTask,
				RoleManager:  managerTask,
			},
		),
		EntityProject: buildGraph(
			[]string{ProjectDraft, ProjectPendingApproval, ProjectActive, ProjectOnHold, ProjectCompleted, ProjectArchived},
			map[Role]map[string][]string{
				RoleEmployee: employeeProject,
				RoleManager:  managerProject,
			},
		),
	}
}

// defaultApproval is the compiled-in approval-required matrix per entity
// type: transitions that must go through the request/approve flow even when
// the requester's role permits them directly.
func defaultApproval() map[EntityType]map[string]map[string]bool {
	return map[EntityType]map[string]map[string]bool{
		EntityTask: {
			TaskInProgress: {TaskCompleted: true},
			TaskReview:     {TaskCompleted: true},
		},
		EntityProject: {
			ProjectPendingApproval: {ProjectActive: true},
			ProjectCompleted:       {ProjectArchived: true},
		},
	}
}
