package permission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-lynx/pluginhost/capability"
)

func newTestBroker(t *testing.T, prompter Prompter, policy PromptPolicy) *Broker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	b, err := NewBroker(path, prompter, policy, AuditNormal)
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	return b
}

func TestValidateRejectsHighRiskUnderStrictAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	b, err := NewBroker(path, DenyAllPrompter{}, PolicyRiskBased, AuditStrict)
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}

	requested := capability.NewSet(capability.NewNetwork(capability.NetworkScope{AllowedHosts: []string{capability.AnyHost}}))
	if err := b.Validate(requested); err == nil {
		t.Fatal("expected Validate to reject a RiskHigh capability under Strict audit")
	}
}

func TestRequestAutoGrantPolicy(t *testing.T) {
	b := newTestBroker(t, DenyAllPrompter{}, PolicyAutoGrant)

	requested := capability.NewSet(capability.NewFilesystem(capability.FilesystemScope{Read: true}))
	granted, err := b.Request(context.Background(), "com.example.sample", requested, "test")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if granted.Len() != 1 {
		t.Fatalf("expected 1 granted capability under AutoGrant, got %d", granted.Len())
	}
	if !b.IsGranted("com.example.sample", capability.NewFilesystem(capability.FilesystemScope{Read: true})) {
		t.Fatal("expected IsGranted to reflect the auto-granted capability")
	}
}

func TestRequestRiskBasedGrantsLowDeniesHigh(t *testing.T) {
	b := newTestBroker(t, DenyAllPrompter{}, PolicyRiskBased)

	requested := capability.NewSet(
		capability.NewFilesystem(capability.FilesystemScope{Read: true, Paths: []string{"/tmp/x"}}), // low risk
		capability.NewNetwork(capability.NetworkScope{AllowedHosts: []string{capability.AnyHost}}),  // high risk
	)
	granted, err := b.Request(context.Background(), "com.example.sample", requested, "test")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if granted.Len() != 1 || !granted.Has(capability.KindFilesystem) {
		t.Fatalf("expected only the low-risk filesystem capability to be granted, got %d entries", granted.Len())
	}
}

func TestRequestRememberedDecisionSkipsRepromptingUnderAskOnce(t *testing.T) {
	calls := 0
	counting := promptFunc(func(ctx context.Context, pluginID, reason string, requested capability.Set) (map[capability.Kind]Outcome, error) {
		calls++
		out := make(map[capability.Kind]Outcome, requested.Len())
		for k := range requested {
			out[k] = Grant
		}
		return out, nil
	})

	b := newTestBroker(t, counting, PolicyAskOnce)
	requested := capability.NewSet(capability.NewFilesystem(capability.FilesystemScope{Read: true}))

	if _, err := b.Request(context.Background(), "com.example.sample", requested, "test"); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	if _, err := b.Request(context.Background(), "com.example.sample", requested, "test"); err != nil {
		t.Fatalf("second Request: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the prompter to be consulted once under AskOnce, got %d calls", calls)
	}
}

func TestIsGrantedAppliesScopeSubsumption(t *testing.T) {
	b := newTestBroker(t, DenyAllPrompter{}, PolicyAutoGrant)

	broad := capability.NewSet(capability.NewFilesystem(capability.FilesystemScope{Read: true, Write: true}))
	if _, err := b.Request(context.Background(), "com.example.sample", broad, "test"); err != nil {
		t.Fatalf("Request: %v", err)
	}

	narrower := capability.NewFilesystem(capability.FilesystemScope{Read: true})
	if !b.IsGranted("com.example.sample", narrower) {
		t.Fatal("a granted read/write scope should satisfy a read-only check")
	}

	ungrantedKind := capability.NewNetwork(capability.NetworkScope{AllowedHosts: []string{"example.com"}})
	if b.IsGranted("com.example.sample", ungrantedKind) {
		t.Fatal("a kind with no decision at all must not be granted")
	}
}

func TestRequestRepromptsWhenRememberedGrantIsNarrower(t *testing.T) {
	calls := 0
	granting := promptFunc(func(ctx context.Context, pluginID, reason string, requested capability.Set) (map[capability.Kind]Outcome, error) {
		calls++
		out := make(map[capability.Kind]Outcome, requested.Len())
		for k := range requested {
			out[k] = Grant
		}
		return out, nil
	})

	b := newTestBroker(t, granting, PolicyAskOnce)
	narrow := capability.NewSet(capability.NewFilesystem(capability.FilesystemScope{Read: true}))
	if _, err := b.Request(context.Background(), "com.example.sample", narrow, "test"); err != nil {
		t.Fatalf("first Request: %v", err)
	}

	broader := capability.NewSet(capability.NewFilesystem(capability.FilesystemScope{Read: true, Write: true}))
	if _, err := b.Request(context.Background(), "com.example.sample", broader, "test"); err != nil {
		t.Fatalf("second Request: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a broader ask to re-prompt despite a remembered narrower grant, got %d prompter calls", calls)
	}
}

func TestPurgeRemovesAllDecisions(t *testing.T) {
	b := newTestBroker(t, DenyAllPrompter{}, PolicyAutoGrant)
	requested := capability.NewSet(capability.NewFilesystem(capability.FilesystemScope{Read: true}))
	if _, err := b.Request(context.Background(), "com.example.sample", requested, "test"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := b.Purge("com.example.sample"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(b.List("com.example.sample")) != 0 {
		t.Fatal("expected no decisions to remain after Purge")
	}
}

// promptFunc adapts a function literal to the Prompter interface for tests.
type promptFunc func(ctx context.Context, pluginID, reason string, requested capability.Set) (map[capability.Kind]Outcome, error)

func (f promptFunc) Prompt(ctx context.Context, pluginID, reason string, requested capability.Set) (map[capability.Kind]Outcome, error) {
	return f(ctx, pluginID, reason, requested)
}
