package permission

import (
	"context"
	"time"

	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/internal/atomicfile"
	"github.com/go-lynx/pluginhost/internal/keyedmu"
	"github.com/go-lynx/pluginhost/plugins"
	"gopkg.in/yaml.v3"
)

// DefaultPromptTimeout bounds how long a consent prompt stays pending
// before it defaults to Deny.
const DefaultPromptTimeout = 60 * time.Second

// NewBroker loads (or creates) the decision store at path and returns a
// ready-to-use Broker.
func NewBroker(path string, prompter Prompter, policy PromptPolicy, auditLevel AuditLevel) (*Broker, error) {
	b := &Broker{
		path:          path,
		prompter:      prompter,
		policy:        policy,
		auditLevel:    auditLevel,
		promptTimeout: DefaultPromptTimeout,
		locks:         keyedmu.New(),
		decisions:     make(map[string]map[capability.Kind]Decision),
	}
	if exists, err := atomicfile.Exists(path); err != nil {
		return nil, err
	} else if exists {
		data, err := atomicfile.ReadLimit(path, 16<<20)
		if err != nil {
			return nil, err
		}
		var s store
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		for id, decisions := range s.Decisions {
			m := make(map[capability.Kind]Decision, len(decisions))
			for _, d := range decisions {
				m[d.Kind] = d
			}
			b.decisions[id] = m
		}
	}
	return b, nil
}

// Validate checks well-formedness of every requested capability and enforces
// the audit-level policy ceiling: Strict rejects any RiskHigh capability
// outright instead of prompting for it.
func (b *Broker) Validate(requested capability.Set) error {
	for _, d := range requested {
		if !d.WellFormed() {
			return plugins.NewPluginErrorWithCode(plugins.ErrorCodePermissionDenied, "", "validate", "malformed capability: "+string(d.Kind), nil)
		}
		if b.auditLevel == AuditStrict && d.RiskTier() == capability.RiskHigh {
			return plugins.NewPluginErrorWithCode(plugins.ErrorCodePermissionDenied, "", "validate", "scope too broad: "+d.String(), nil)
		}
	}
	return nil
}

// Request consults the decision store for pluginID, prompts for any
// capability lacking a remembered decision, persists the outcome, and
// returns the merged grant set.
func (b *Broker) Request(ctx context.Context, pluginID string, requested capability.Set, reason string) (capability.Set, error) {
	b.locks.Lock(pluginID)
	defer b.locks.Unlock(pluginID)

	granted := capability.NewSet()
	var toPrompt capability.Set

	b.mu.RLock()
	existing := b.decisions[pluginID]
	now := time.Now()
	for k, d := range requested {
		if dec, ok := existing[k]; ok && dec.Remember && !dec.expired(now) {
			if dec.Outcome == Deny {
				continue
			}
			// A remembered grant only satisfies the request if its scope
			// covers what is being asked for now; a broader ask re-prompts.
			if dec.Capability.Subsumes(d) {
				granted.Add(d)
				continue
			}
		}
		if toPrompt == nil {
			toPrompt = capability.NewSet()
		}
		toPrompt[k] = d
	}
	b.mu.RUnlock()

	if toPrompt.Len() == 0 {
		return granted, nil
	}

	outcomes, err := b.resolve(ctx, pluginID, reason, toPrompt)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.decisions[pluginID] == nil {
		b.decisions[pluginID] = make(map[capability.Kind]Decision)
	}
	for k, d := range toPrompt {
		outcome := outcomes[k]
		remember := b.policy == PolicyAskOnce || b.policy == PolicyAutoGrant || b.policy == PolicyAutoDeny
		b.decisions[pluginID][k] = Decision{
			PluginID:   pluginID,
			Kind:       k,
			Capability: d,
			Outcome:    outcome,
			Remember:   remember,
			GrantedAt:  now,
		}
		if outcome == Grant {
			granted.Add(d)
		}
	}
	b.mu.Unlock()

	if err := b.persist(); err != nil {
		// On write failure in-memory state still reflects the decision the
		// operator made, but it is reported so the caller can retry.
		return granted, plugins.NewPluginErrorWithCode(plugins.ErrorCodeIoError, pluginID, "persist_decisions", err.Error(), err)
	}
	return granted, nil
}

// resolve applies the broker's prompt policy, only delegating to the
// Prompter for capabilities the policy can't resolve on its own.
func (b *Broker) resolve(ctx context.Context, pluginID, reason string, requested capability.Set) (map[capability.Kind]Outcome, error) {
	switch b.policy {
	case PolicyAutoGrant:
		out := make(map[capability.Kind]Outcome, requested.Len())
		for k := range requested {
			out[k] = Grant
		}
		return out, nil
	case PolicyAutoDeny:
		out := make(map[capability.Kind]Outcome, requested.Len())
		for k := range requested {
			out[k] = Deny
		}
		return out, nil
	case PolicyRiskBased:
		out := make(map[capability.Kind]Outcome, requested.Len())
		var needPrompt capability.Set
		for k, d := range requested {
			switch d.RiskTier() {
			case capability.RiskLow:
				out[k] = Grant
			case capability.RiskHigh:
				out[k] = Deny
			default:
				if needPrompt == nil {
					needPrompt = capability.NewSet()
				}
				needPrompt[k] = d
			}
		}
		if needPrompt.Len() > 0 {
			promptCtx, cancel := context.WithTimeout(ctx, b.promptTimeout)
			defer cancel()
			answers, err := b.prompter.Prompt(promptCtx, pluginID, reason, needPrompt)
			if err != nil {
				return nil, err
			}
			for k, v := range answers {
				out[k] = v
			}
		}
		return out, nil
	default: // AlwaysAsk, AskOnce
		promptCtx, cancel := context.WithTimeout(ctx, b.promptTimeout)
		defer cancel()
		return b.prompter.Prompt(promptCtx, pluginID, reason, requested)
	}
}

// IsGranted is a pure read of the decision store, applying scope
// subsumption: a granted broader scope satisfies a narrower check.
func (b *Broker) IsGranted(pluginID string, d capability.Descriptor) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dec, ok := b.decisions[pluginID][d.Kind]
	if !ok || dec.Outcome != Grant || dec.expired(time.Now()) {
		return false
	}
	return dec.Capability.Subsumes(d)
}

// Grant administratively records a grant for pluginID without a prompt.
func (b *Broker) Grant(pluginID string, d capability.Descriptor) error {
	return b.setDecision(pluginID, d, Grant)
}

// Revoke administratively records a deny for pluginID without a prompt.
func (b *Broker) Revoke(pluginID string, kind capability.Kind) error {
	return b.setDecision(pluginID, capability.Descriptor{Kind: kind}, Deny)
}

func (b *Broker) setDecision(pluginID string, d capability.Descriptor, outcome Outcome) error {
	b.locks.Lock(pluginID)
	defer b.locks.Unlock(pluginID)

	b.mu.Lock()
	if b.decisions[pluginID] == nil {
		b.decisions[pluginID] = make(map[capability.Kind]Decision)
	}
	b.decisions[pluginID][d.Kind] = Decision{PluginID: pluginID, Kind: d.Kind, Capability: d, Outcome: outcome, Remember: true, GrantedAt: time.Now()}
	b.mu.Unlock()

	return b.persist()
}

// List enumerates pluginID's current decisions.
func (b *Broker) List(pluginID string) []Decision {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Decision, 0, len(b.decisions[pluginID]))
	for _, d := range b.decisions[pluginID] {
		out = append(out, d)
	}
	return out
}

// Purge removes every decision for pluginID. Uninstall calls this so no
// stale grant survives a later reinstall of the same id.
func (b *Broker) Purge(pluginID string) error {
	b.locks.Lock(pluginID)
	defer b.locks.Unlock(pluginID)

	b.mu.Lock()
	delete(b.decisions, pluginID)
	b.mu.Unlock()

	return b.persist()
}

func (b *Broker) persist() error {
	b.mu.RLock()
	s := store{Decisions: make(map[string][]Decision, len(b.decisions))}
	for id, m := range b.decisions {
		for _, d := range m {
			s.Decisions[id] = append(s.Decisions[id], d)
		}
	}
	b.mu.RUnlock()

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return atomicfile.Write(b.path, data, 0o644)
}
