package domain

import (
	"fmt"
	"strings"
)

// FormatSubject renders the one-line subject used as channel message title.
// Params: alert type, severity, site id, connector display name, and resolve flag.
// Returns: subject such as "[High] Offline | site S1 | Chiller MQTT".
func FormatSubject(alertType, severity, siteID, connectorName string, resolved bool) string {
	label := strings.TrimSpace(severity)
	if resolved {
		label = "Resolved"
	}
	if label == "" {
		label = "Alert"
	}
	subject := fmt.Sprintf("[%s] %s | site %s", label, strings.TrimSpace(alertType), strings.TrimSpace(siteID))
	if name := strings.TrimSpace(connectorName); name != "" {
		subject += " | " + name
	}
	return subject
}
