package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy gates what a notifier extension may do at runtime.
// Validate runs before Init, Prepare before Start, Cleanup after Stop.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopIsolationStrategy checks declared capabilities against the policy and
// performs no sandboxing beyond that.
type NoopIsolationStrategy struct{}

// Validate rejects a plugin whose declared capabilities fall outside the
// policy. Denials win over allowances; an empty allow list permits any
// capability not explicitly denied.
func (NoopIsolationStrategy) Validate(info Info, policy IsolationPolicy) error {
	for _, cap := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, cap) {
			return fmt.Errorf("capability %s is explicitly denied", cap)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, cap := range info.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, cap) {
			return fmt.Errorf("capability %s not permitted", cap)
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (NoopIsolationStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (NoopIsolationStrategy) Cleanup(Info) error { return nil }

// NewIsolationStrategy substitutes the noop strategy when none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return NoopIsolationStrategy{}
	}
	return strategy
}

// MergePolicies resolves the effective policy for one plugin: the plugin's
// own policy filled in from the manager defaults, falling back to the
// defaults when the plugin block specifies nothing.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if len(merged.AllowedCapabilities) == 0 && len(merged.DeniedCapabilities) == 0 {
		return defaults
	}
	return merged
}

// EnsurePolicy requires an explicit policy for any plugin that declares
// capabilities, so a capability never slips through an unconfigured manager.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("plugins declaring capabilities require an isolation policy")
	}
	return nil
}
