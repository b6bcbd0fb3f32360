// Package permission implements the broker: it validates a manifest's
// declared capabilities against policy, solicits operator consent, persists
// decisions, and answers runtime grant checks. Every privileged operation
// in the host consults it.
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/internal/keyedmu"
)

// AuditLevel gates which high-risk scopes require interactive consent versus
// outright rejection.
type AuditLevel string

const (
	AuditStrict   AuditLevel = "Strict"
	AuditNormal   AuditLevel = "Normal"
	AuditRelaxed  AuditLevel = "Relaxed"
	AuditDisabled AuditLevel = "Disabled"
)

// PromptPolicy configures how consent is solicited.
type PromptPolicy string

const (
	PolicyAlwaysAsk PromptPolicy = "AlwaysAsk"
	PolicyAskOnce   PromptPolicy = "AskOnce"
	PolicyRiskBased PromptPolicy = "RiskBased"
	PolicyAutoGrant PromptPolicy = "AutoGrant"
	PolicyAutoDeny  PromptPolicy = "AutoDeny"
)

// Outcome is a single capability grant/deny decision.
type Outcome string

const (
	Grant Outcome = "Grant"
	Deny  Outcome = "Deny"
)

// Decision is one durable capability grant/deny record for a plugin. For
// grants, Capability carries the exact scope the operator approved, so
// later IsGranted checks can apply scope subsumption against it.
type Decision struct {
	PluginID   string                `yaml:"plugin_id"`
	Kind       capability.Kind       `yaml:"capability_kind"`
	Capability capability.Descriptor `yaml:"capability"`
	Outcome    Outcome               `yaml:"decision"`
	Remember   bool                  `yaml:"remember"`
	GrantedAt  time.Time             `yaml:"granted_at"`
	ExpiresAt  *time.Time            `yaml:"expires_at,omitempty"`
}

func (d Decision) expired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// Prompter is the consent-prompt boundary onto the UI collaborator: the
// broker never talks to the UI directly.
type Prompter interface {
	// Prompt asks the operator to decide on each requested capability and
	// returns a decision per Kind. ctx carries the consent-prompt timeout;
	// an implementation that can't answer before ctx is done should return
	// as soon as ctx.Err() is observed.
	Prompt(ctx context.Context, pluginID string, reason string, requested capability.Set) (map[capability.Kind]Outcome, error)
}

// DenyAllPrompter answers every capability with Deny — used when no UI is
// attached, or under the AutoDeny policy (security testing only).
type DenyAllPrompter struct{}

func (DenyAllPrompter) Prompt(_ context.Context, _ string, _ string, requested capability.Set) (map[capability.Kind]Outcome, error) {
	out := make(map[capability.Kind]Outcome, requested.Len())
	for k := range requested {
		out[k] = Deny
	}
	return out, nil
}

// AsyncPrompter relays prompts to a channel-based consumer (a real UI) and
// waits for an answer or ctx's deadline, matching the teardown-timeout idiom
// used elsewhere in the host: spawn the wait, select on completion vs.
// ctx.Done().
type AsyncPrompter struct {
	Requests chan PromptRequest
}

// PromptRequest is one outstanding consent prompt handed to the UI.
type PromptRequest struct {
	PluginID  string
	Reason    string
	Requested capability.Set
	Reply     chan map[capability.Kind]Outcome
}

func NewAsyncPrompter() *AsyncPrompter {
	return &AsyncPrompter{Requests: make(chan PromptRequest)}
}

func (p *AsyncPrompter) Prompt(ctx context.Context, pluginID, reason string, requested capability.Set) (map[capability.Kind]Outcome, error) {
	req := PromptRequest{PluginID: pluginID, Reason: reason, Requested: requested, Reply: make(chan map[capability.Kind]Outcome, 1)}
	select {
	case p.Requests <- req:
	case <-ctx.Done():
		return denyAll(requested), nil
	}
	select {
	case answer := <-req.Reply:
		return answer, nil
	case <-ctx.Done():
		return denyAll(requested), nil
	}
}

func denyAll(requested capability.Set) map[capability.Kind]Outcome {
	out := make(map[capability.Kind]Outcome, requested.Len())
	for k := range requested {
		out[k] = Deny
	}
	return out
}

// store is the on-disk shape of the decision file.
type store struct {
	Decisions map[string][]Decision `yaml:"decisions"`
}

// Broker validates, prompts for, and persists capability grants. Mutating
// operations for a given plugin serialize through a per-plugin lock;
// operations on distinct plugins proceed in parallel.
type Broker struct {
	path          string
	prompter      Prompter
	policy        PromptPolicy
	auditLevel    AuditLevel
	promptTimeout time.Duration

	locks     *keyedmu.Map
	mu        sync.RWMutex
	decisions map[string]map[capability.Kind]Decision
}
