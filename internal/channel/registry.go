package channel

import (
	"sort"
	"strings"
	"sync"

	"alertresolver/internal/config"
)

// channelSpec is the registered audience of one channel.
type channelSpec struct {
	enabled    bool
	alertTypes map[string]struct{}
}

// Registry maps channel names to the alert types they may receive.
// Params: known alert types used by ForAllAlerts.
// Returns: concurrency-safe registry owned by the service, never global.
type Registry struct {
	mu         sync.RWMutex
	specs      map[string]channelSpec
	knownTypes []string
}

// NewRegistry creates an empty registry.
// Params: every alert type the catalog can produce.
// Returns: registry ready for Register calls.
func NewRegistry(knownTypes []string) *Registry {
	return &Registry{
		specs:      make(map[string]channelSpec),
		knownTypes: append([]string(nil), knownTypes...),
	}
}

// Register merges alert types into the channel spec and replaces its enabled flag.
// Params: channel name, alert types, and enabled flag.
// Returns: none; repeated registration is an idempotent union.
func (r *Registry) Register(name string, alertTypes []string, enabled bool) {
	name = config.NormalizeChannelName(name)
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make(map[string]struct{}, len(alertTypes))
	if existing, ok := r.specs[name]; ok {
		for alertType := range existing.alertTypes {
			merged[alertType] = struct{}{}
		}
	}
	for _, alertType := range alertTypes {
		alertType = strings.TrimSpace(alertType)
		if alertType == "" {
			continue
		}
		merged[alertType] = struct{}{}
	}
	r.specs[name] = channelSpec{enabled: enabled, alertTypes: merged}
}

// ForAllAlerts registers every known alert type for the channel.
func (r *Registry) ForAllAlerts(name string, enabled bool) {
	r.Register(name, r.knownTypes, enabled)
}

// IsEnabledForChannel reports whether an enabled channel accepts the alert type.
func (r *Registry) IsEnabledForChannel(alertType, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[config.NormalizeChannelName(name)]
	if !ok || !spec.enabled {
		return false
	}
	_, ok = spec.alertTypes[strings.TrimSpace(alertType)]
	return ok
}

// IsChannelEnabled reports the enabled flag; unregistered channels are disabled.
func (r *Registry) IsChannelEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[config.NormalizeChannelName(name)]
	return ok && spec.enabled
}

// AlertTypes returns the sorted alert types registered for a channel.
func (r *Registry) AlertTypes(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[config.NormalizeChannelName(name)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(spec.alertTypes))
	for alertType := range spec.alertTypes {
		out = append(out, alertType)
	}
	sort.Strings(out)
	return out
}

// RegisterFromConfig loads channel specs from config sections.
// Params: channel sections keyed by normalized name.
// Returns: none.
func (r *Registry) RegisterFromConfig(channels map[string]config.ChannelConfig) {
	for name, channel := range channels {
		if channel.AllAlerts {
			r.ForAllAlerts(name, channel.Enabled)
		}
		if len(channel.AlertTypes) > 0 {
			r.Register(name, channel.AlertTypes, channel.Enabled)
		}
	}
}
