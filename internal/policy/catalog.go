package policy

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/craftdesk/be-workflow-core/internal/apperr"
)

// Source loads the active rule set from wherever rules are persisted.
type Source interface {
	LoadActiveRules(ctx context.Context) ([]Rule, error)
}

// Catalog is the active, atomically replaceable rule set. Load and Reload
// build a complete new snapshot and swap it in with a single pointer store,
// so concurrent Evaluate calls always see either the old or the new catalog
// in full, never a partial one.
type Catalog struct {
	source   Source
	log      zerolog.Logger
	snapshot atomic.Pointer[catalogSnapshot]
}

type catalogSnapshot struct {
	rules []compiledRule
}

type compiledRule struct {
	rule Rule
	cond *Condition
	// broken marks a rule whose condition failed to compile. Broken rules
	// never match; evaluation falls through to lower-priority rules and
	// ultimately DEFAULT_ALLOW. This fail-open behavior is deliberate and
	// surfaced as a load-time warning.
	broken bool
}

// NewCatalog creates an empty catalog. Call Load before evaluating; an
// unloaded catalog answers every context with the default allow.
func NewCatalog(source Source, log zerolog.Logger) *Catalog {
	return &Catalog{source: source, log: log}
}

// Load fetches the active rules, compiles their conditions and swaps the new
// snapshot in. The previous snapshot stays visible until the swap.
func (c *Catalog) Load(ctx context.Context) error {
	rules, err := c.source.LoadActiveRules(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load active rules")
	}

	snap, err := compile(rules, c.log)
	if err != nil {
		return err
	}

	c.snapshot.Store(snap)
	c.log.Info().Int("rules", len(snap.rules)).Msg("rule catalog loaded")
	return nil
}

// Reload rebuilds the catalog from the source. On error the previous
// snapshot remains active.
func (c *Catalog) Reload(ctx context.Context) error {
	return c.Load(ctx)
}

// Evaluate returns the action of the first active rule matching the context,
// in ascending priority order. Evaluation is total: the catch-all rule (or
// the built-in fallback when no catalog is loaded) always decides.
func (c *Catalog) Evaluate(ctx Context) Decision {
	snap := c.snapshot.Load()
	if snap == nil {
		return Decision{Action: ActionAllow, RuleCode: DefaultAllowCode}
	}
	for i := range snap.rules {
		cr := &snap.rules[i]
		if cr.broken {
			continue
		}
		if cr.cond.Match(ctx) {
			return Decision{Action: cr.rule.Action, RuleCode: cr.rule.Code}
		}
	}
	// Unreachable with a valid catalog; kept so evaluation can never be
	// undecided.
	return Decision{Action: ActionAllow, RuleCode: DefaultAllowCode}
}

// Rules returns the rules in the active snapshot, in evaluation order.
func (c *Catalog) Rules() []Rule {
	snap := c.snapshot.Load()
	if snap == nil {
		return nil
	}
	rules := make([]Rule, len(snap.rules))
	for i, cr := range snap.rules {
		rules[i] = cr.rule
	}
	return rules
}

func compile(rules []Rule, log zerolog.Logger) (*catalogSnapshot, error) {
	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if !r.Action.IsValid() {
			return nil, apperr.Newf(apperr.ErrCodeConfiguration,
				"rule %q has invalid action %q", r.Code, r.Action)
		}
		active = append(active, r)
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].Code < active[j].Code
	})

	if err := checkCatchAll(active); err != nil {
		return nil, err
	}

	compiled := make([]compiledRule, 0, len(active))
	for _, r := range active {
		cr := compiledRule{rule: r}
		cond, err := ParseCondition(r.Conditions)
		if err != nil {
			log.Warn().
				Str("rule_code", r.Code).
				Err(err).
				Msg("rule condition failed to compile; rule will never match")
			cr.broken = true
		} else {
			cr.cond = cond
		}
		compiled = append(compiled, cr)
	}

	return &catalogSnapshot{rules: compiled}, nil
}

// checkCatchAll enforces the catalog invariant: exactly one rule holds the
// maximum priority, and it is an unconditional ALLOW.
func checkCatchAll(sorted []Rule) error {
	if len(sorted) == 0 {
		return apperr.New(apperr.ErrCodeConfiguration, "rule catalog is empty")
	}
	last := sorted[len(sorted)-1]
	if len(sorted) > 1 && sorted[len(sorted)-2].Priority == last.Priority {
		return apperr.Newf(apperr.ErrCodeConfiguration,
			"multiple rules share the maximum priority %d", last.Priority)
	}
	if last.Action != ActionAllow || len(last.Conditions) != 0 {
		return apperr.Newf(apperr.ErrCodeConfiguration,
			"catch-all rule %q must be an unconditional ALLOW", last.Code)
	}
	return nil
}
