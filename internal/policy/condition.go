package policy

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition is a compiled condition tree. The raw map form is parsed exactly
// once (at catalog load); matching dispatches on the compiled variants and
// never re-inspects map shapes. An empty condition always matches.
type Condition struct {
	preds []predicate
}

// ParseCondition compiles a raw condition tree as decoded from JSON or YAML.
// A nil or empty tree compiles to an always-true condition. Unknown operators
// and malformed operands are compile errors; the catalog treats such rules as
// never-matching rather than failing evaluation.
func ParseCondition(raw map[string]any) (*Condition, error) {
	preds, err := parseGroup(raw)
	if err != nil {
		return nil, err
	}
	return &Condition{preds: preds}, nil
}

// Always returns the always-true condition.
func Always() *Condition { return &Condition{} }

// Match evaluates the condition against a context. Placeholder values of the
// form "{{name}}" are substituted from the context in a pre-pass, so matching
// proper only ever compares concrete values.
func (c *Condition) Match(ctx Context) bool {
	bag := ctx.bag()
	return matchAll(resolveAll(c.preds, bag), bag)
}

// ── predicate variants ───────────────────────────────────────────────────────

type predicate interface {
	// resolve substitutes placeholders from the context bag.
	resolve(bag map[string]any) predicate
	// match evaluates against the current scope (the bag, or a nested group).
	match(scope map[string]any) bool
}

type eqPred struct {
	field string
	want  any
}

func (p eqPred) resolve(bag map[string]any) predicate {
	if !isPlaceholder(p.want) {
		return p
	}
	return eqPred{field: p.field, want: substitute(p.want, bag)}
}

func (p eqPred) match(scope map[string]any) bool {
	v, ok := lookup(scope, p.field)
	return ok && looseEqual(v, p.want)
}

type nePred struct {
	field string
	want  any
}

func (p nePred) resolve(bag map[string]any) predicate {
	if !isPlaceholder(p.want) {
		return p
	}
	return nePred{field: p.field, want: substitute(p.want, bag)}
}

// match is true when the values differ, including when the key is absent.
func (p nePred) match(scope map[string]any) bool {
	v, ok := lookup(scope, p.field)
	return !ok || !looseEqual(v, p.want)
}

type inPred struct {
	field string
	want  []any
}

func (p inPred) resolve(bag map[string]any) predicate {
	needs := false
	for _, v := range p.want {
		if isPlaceholder(v) {
			needs = true
			break
		}
	}
	if !needs {
		return p
	}
	resolved := make([]any, len(p.want))
	for i, v := range p.want {
		resolved[i] = substitute(v, bag)
	}
	return inPred{field: p.field, want: resolved}
}

func (p inPred) match(scope map[string]any) bool {
	v, ok := lookup(scope, p.field)
	if !ok {
		return false
	}
	for _, candidate := range p.want {
		if looseEqual(v, candidate) {
			return true
		}
	}
	return false
}

type cmpPred struct {
	field string
	op    string // $gt | $gte | $lt | $lte
	want  any
}

func (p cmpPred) resolve(bag map[string]any) predicate {
	if !isPlaceholder(p.want) {
		return p
	}
	return cmpPred{field: p.field, op: p.op, want: substitute(p.want, bag)}
}

// match performs a numeric comparison; non-numeric operands never match.
func (p cmpPred) match(scope map[string]any) bool {
	v, ok := lookup(scope, p.field)
	if !ok {
		return false
	}
	got, gok := toFloat(v)
	want, wok := toFloat(p.want)
	if !gok || !wok {
		return false
	}
	switch p.op {
	case "$gt":
		return got > want
	case "$gte":
		return got >= want
	case "$lt":
		return got < want
	case "$lte":
		return got <= want
	}
	return false
}

type existsPred struct {
	field string
	want  bool
}

func (p existsPred) resolve(map[string]any) predicate { return p }

func (p existsPred) match(scope map[string]any) bool {
	_, ok := lookup(scope, p.field)
	return ok == p.want
}

// groupPred matches all children against the nested map value of field.
type groupPred struct {
	field    string
	children []predicate
}

func (p groupPred) resolve(bag map[string]any) predicate {
	return groupPred{field: p.field, children: resolveAll(p.children, bag)}
}

func (p groupPred) match(scope map[string]any) bool {
	v, ok := lookup(scope, p.field)
	if !ok {
		return false
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return false
	}
	return matchAll(p.children, nested)
}

// orPred matches when any branch matches.
type orPred struct {
	branches [][]predicate
}

func (p orPred) resolve(bag map[string]any) predicate {
	resolved := make([][]predicate, len(p.branches))
	for i, branch := range p.branches {
		resolved[i] = resolveAll(branch, bag)
	}
	return orPred{branches: resolved}
}

func (p orPred) match(scope map[string]any) bool {
	for _, branch := range p.branches {
		if matchAll(branch, scope) {
			return true
		}
	}
	return false
}

// exprPred evaluates a compiled expression against the current scope. A
// runtime error or non-boolean result is a non-match.
type exprPred struct {
	program *vm.Program
}

func (p exprPred) resolve(map[string]any) predicate { return p }

func (p exprPred) match(scope map[string]any) bool {
	out, err := expr.Run(p.program, scope)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// ── parsing ──────────────────────────────────────────────────────────────────

func parseGroup(raw map[string]any) ([]predicate, error) {
	var preds []predicate
	for _, key := range sortedKeys(raw) {
		val := raw[key]
		switch {
		case key == "$or":
			branches, err := parseOr(val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, orPred{branches: branches})
		case key == "$expr":
			src, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("$expr: expected a string expression, got %T", val)
			}
			program, err := expr.Compile(src,
				expr.Env(map[string]any{}),
				expr.AllowUndefinedVariables(),
				expr.AsBool(),
			)
			if err != nil {
				return nil, fmt.Errorf("$expr: %w", err)
			}
			preds = append(preds, exprPred{program: program})
		case strings.HasPrefix(key, "$"):
			return nil, fmt.Errorf("unknown operator %q", key)
		default:
			fieldPreds, err := parseField(key, val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, fieldPreds...)
		}
	}
	return preds, nil
}

func parseOr(val any) ([][]predicate, error) {
	list, ok := val.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("$or: expected a non-empty list of conditions")
	}
	branches := make([][]predicate, 0, len(list))
	for i, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$or[%d]: expected a condition object, got %T", i, item)
		}
		branch, err := parseGroup(sub)
		if err != nil {
			return nil, fmt.Errorf("$or[%d]: %w", i, err)
		}
		branches = append(branches, branch)
	}
	return branches, nil
}

func parseField(field string, val any) ([]predicate, error) {
	m, ok := val.(map[string]any)
	if !ok {
		// Bare value: implicit equality.
		return []predicate{eqPred{field: field, want: val}}, nil
	}
	if !hasOperatorKey(m) {
		// Nested field group.
		children, err := parseGroup(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return []predicate{groupPred{field: field, children: children}}, nil
	}
	// Operator object: every key must be a recognized operator. Multiple
	// operators on one field are conjoined (e.g. a $gte / $lt range).
	var preds []predicate
	for _, op := range sortedKeys(m) {
		arg := m[op]
		switch op {
		case "$ne":
			preds = append(preds, nePred{field: field, want: arg})
		case "$in":
			list, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("%s: $in expects a list, got %T", field, arg)
			}
			preds = append(preds, inPred{field: field, want: list})
		case "$gt", "$gte", "$lt", "$lte":
			preds = append(preds, cmpPred{field: field, op: op, want: arg})
		case "$exists":
			b, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("%s: $exists expects a boolean, got %T", field, arg)
			}
			preds = append(preds, existsPred{field: field, want: b})
		default:
			return nil, fmt.Errorf("%s: unknown operator %q", field, op)
		}
	}
	return preds, nil
}

func hasOperatorKey(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── evaluation helpers ───────────────────────────────────────────────────────

func matchAll(preds []predicate, scope map[string]any) bool {
	for _, p := range preds {
		if !p.match(scope) {
			return false
		}
	}
	return true
}

func resolveAll(preds []predicate, bag map[string]any) []predicate {
	if len(preds) == 0 {
		return preds
	}
	resolved := make([]predicate, len(preds))
	for i, p := range preds {
		resolved[i] = p.resolve(bag)
	}
	return resolved
}

// lookup walks a dotted path through nested maps.
func lookup(scope map[string]any, path string) (any, bool) {
	var cur any = scope
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isPlaceholder(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}")
}

// substitute resolves a "{{name}}" literal from the top-level context bag.
// Unresolvable names become nil, which compares equal to nothing.
func substitute(v any, bag map[string]any) any {
	if !isPlaceholder(v) {
		return v
	}
	s := v.(string)
	name := strings.TrimSpace(s[2 : len(s)-2])
	if resolved, ok := bag[name]; ok {
		return resolved
	}
	return nil
}

// looseEqual compares scalars with numeric widening so a YAML int matches a
// JSON float. Composite values fall back to deep equality.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if _, bok := toFloat(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
