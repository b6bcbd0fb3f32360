package lifecycle

import (
	"github.com/go-lynx/pluginhost/capability"
	"github.com/go-lynx/pluginhost/permission"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/sandbox"
)

// Permissions lists pluginID's current permission-broker decisions, for the
// get_plugin_permissions command surface.
func (e *Engine) Permissions(pluginID string) []permission.Decision {
	return e.broker.List(pluginID)
}

// GrantPermission administratively grants d to pluginID without a consent
// prompt, for the grant_permission command surface.
func (e *Engine) GrantPermission(pluginID string, d capability.Descriptor) error {
	return e.broker.Grant(pluginID, d)
}

// RevokePermission administratively denies kind for pluginID, for the
// revoke_permission command surface.
func (e *Engine) RevokePermission(pluginID string, kind capability.Kind) error {
	return e.broker.Revoke(pluginID, kind)
}

// ResourceUsage reports pluginID's rolling-average, peak, and most recent
// sample for resource, for the get_resource_usage command surface.
func (e *Engine) ResourceUsage(pluginID string, resource sandbox.Resource) (avg, peak float64, recent sandbox.Sample, ok bool) {
	return e.governor.Usage(pluginID, resource)
}

// ResourceLimits returns pluginID's configured limit records, for the
// get_resource_limits command surface.
func (e *Engine) ResourceLimits(pluginID string) []sandbox.LimitRecord {
	return e.governor.Limits(pluginID)
}

// UpdateResourceLimits replaces pluginID's limit records, for the
// update_resource_limits command surface.
func (e *Engine) UpdateResourceLimits(pluginID string, limits []sandbox.LimitRecord) error {
	return e.governor.UpdateLimits(pluginID, limits)
}

// LimitEvents returns past sandbox events matching filter, for the
// get_limit_events command surface.
func (e *Engine) LimitEvents(filter plugins.EventFilter) []plugins.PluginEvent {
	if e.emitter == nil {
		return nil
	}
	return e.emitter.History(filter)
}
