package alerts

import (
	"fmt"
	"sort"
	"strings"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/telemetry"
)

// Built-in alert types.
const (
	TypeOffline  = "Offline"
	TypeDegraded = "Degraded"
)

type factory func(base definition) domain.AlertDefinition

var builtins = map[string]factory{
	TypeOffline:  func(base definition) domain.AlertDefinition { return &offlineAlert{definition: base} },
	TypeDegraded: func(base definition) domain.AlertDefinition { return &degradedAlert{definition: base} },
}

// Catalog builds alert definitions for connectors from [alert.<type>] settings.
// Params: per-type settings, telemetry source, and clock.
// Returns: fresh definitions every run.
type Catalog struct {
	settings map[string]config.AlertConfig
	types    []string
	source   telemetry.Source
	clock    clock.Clock
}

// NewCatalog validates configured alert types against built-ins.
// Params: alert settings keyed by type, telemetry source, and clock.
// Returns: catalog, or an error for unknown types and severities.
func NewCatalog(settings map[string]config.AlertConfig, source telemetry.Source, clk clock.Clock) (*Catalog, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	catalog := &Catalog{
		settings: make(map[string]config.AlertConfig, len(settings)),
		source:   source,
		clock:    clk,
	}
	for name, alert := range settings {
		name = strings.TrimSpace(name)
		if _, ok := builtins[name]; !ok {
			return nil, fmt.Errorf("unknown alert type %q", name)
		}
		if alert.Disabled {
			continue
		}
		if strings.TrimSpace(alert.Severity) != "" {
			severity, err := domain.ParseSeverity(alert.Severity)
			if err != nil {
				return nil, fmt.Errorf("alert %s: %w", name, err)
			}
			alert.Severity = severity
		}
		catalog.settings[name] = alert
		catalog.types = append(catalog.types, name)
	}
	sort.Strings(catalog.types)
	return catalog, nil
}

// Types returns enabled alert types in name order.
func (c *Catalog) Types() []string {
	return append([]string(nil), c.types...)
}

// CreateAlerts builds one definition per enabled alert type and connector.
// Params: connector configurations of this run.
// Returns: definitions ordered by connector, then alert type.
func (c *Catalog) CreateAlerts(connectors []domain.ConnectorConfig) []domain.AlertDefinition {
	definitions := make([]domain.AlertDefinition, 0, len(connectors)*len(c.types))
	for _, connector := range connectors {
		for _, alertType := range c.types {
			definitions = append(definitions, builtins[alertType](definition{
				alertType: alertType,
				connector: connector,
				settings:  c.settings[alertType],
				source:    c.source,
				clock:     c.clock,
			}))
		}
	}
	return definitions
}
