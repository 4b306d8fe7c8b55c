package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/craftdesk/be-workflow-core/internal/policy"
)

const seedDoc = `
version: "1"
rules:
  - code: DENY_GUEST_WRITES
    description: Guests may read but never mutate.
    priority: 10
    action: DENY
    conditions:
      role: GUEST
      action:
        $ne: read

  - code: ALLOW_OWNER_TASK_UPDATE
    priority: 40
    action: ALLOW
    conditions:
      action: task.update
      payload:
        ownerId: "{{userId}}"

  - code: DISABLED_RULE
    priority: 50
    action: DENY
    active: false
    conditions: {}

  - code: DEFAULT_ALLOW
    priority: 1000
    action: ALLOW
    conditions: {}
`

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(seedDoc), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadDocument(t *testing.T) {
	doc, err := policy.LoadDocument(writeSeed(t))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(doc.Rules) != 4 {
		t.Fatalf("got %d rules, want 4", len(doc.Rules))
	}
	if doc.Rules[0].Code != "DENY_GUEST_WRITES" || doc.Rules[0].Action != policy.ActionDeny {
		t.Errorf("unexpected first rule: %+v", doc.Rules[0])
	}
	if doc.Rules[2].Active == nil || *doc.Rules[2].Active {
		t.Error("DISABLED_RULE should carry active: false")
	}
}

func TestFileSourceFeedsCatalog(t *testing.T) {
	source := &policy.FileSource{Path: writeSeed(t)}
	catalog := policy.NewCatalog(source, zerolog.Nop())
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Guard rule from the file decides before the catch-all.
	decision := catalog.Evaluate(policy.Context{Role: "GUEST", Action: "task.create"})
	if decision.Action != policy.ActionDeny || decision.RuleCode != "DENY_GUEST_WRITES" {
		t.Errorf("got %+v, want DENY_GUEST_WRITES", decision)
	}

	// Placeholder rule resolves against the context.
	decision = catalog.Evaluate(policy.Context{
		UserID:  "u1",
		Action:  "task.update",
		Payload: map[string]any{"ownerId": "u1"},
	})
	if decision.RuleCode != "ALLOW_OWNER_TASK_UPDATE" {
		t.Errorf("got %+v, want ALLOW_OWNER_TASK_UPDATE", decision)
	}

	// Disabled rules are filtered at load.
	decision = catalog.Evaluate(policy.Context{Role: "GUEST", Action: "read"})
	if decision.RuleCode != policy.DefaultAllowCode {
		t.Errorf("got %+v, want catch-all", decision)
	}
}

func TestLoadDocumentMissingFile(t *testing.T) {
	if _, err := policy.LoadDocument(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
