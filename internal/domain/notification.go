package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSource is stamped on notifications that do not name their producer.
const DefaultSource = "Alarm Function"

// Attachment is an optional file carried with a notification.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

// AlertNotification is the payload produced by an active alert definition.
// Params: identity, dedup key, audience-specific texts, and free-form data.
// Returns: one raise or auto-resolve item for channels.
type AlertNotification struct {
	ID             string            `json:"id"`
	AlertKey       string            `json:"alert_key"`
	AlertType      string            `json:"alert_type"`
	Severity       string            `json:"severity"`
	Message        string            `json:"message"`
	SupportMessage string            `json:"support_message,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	SupportData    map[string]string `json:"support_data,omitempty"`
	AutoResolve    bool              `json:"auto_resolve"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	Source         string            `json:"source"`
	SiteID         string            `json:"site_id"`
	ConnectorID    string            `json:"connector_id"`
	ConnectorName  string            `json:"connector_name,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`

	origin AlertDefinition
}

// NewNotification creates a raise notification for an alert type on one connector.
// Params: alert type, connector scope, severity, message, and creation time.
// Returns: notification with generated id and derived alert key.
func NewNotification(alertType string, connector ConnectorConfig, severity, message string, createdAt time.Time) *AlertNotification {
	return &AlertNotification{
		ID:            uuid.NewString(),
		AlertKey:      AlertKey(alertType, connector.SiteID, connector.ConnectorID),
		AlertType:     strings.TrimSpace(alertType),
		Severity:      severity,
		Message:       message,
		SiteID:        strings.TrimSpace(connector.SiteID),
		ConnectorID:   strings.TrimSpace(connector.ConnectorID),
		ConnectorName: connector.DisplayName(),
		CreatedAt:     createdAt,
	}
}

// WithData adds one data pair unless key or value is empty or key already exists.
func (n *AlertNotification) WithData(key, value string) *AlertNotification {
	n.Data = putFirst(n.Data, key, value)
	return n
}

// WithSupportData adds one support-only data pair with the same first-write-wins rule.
func (n *AlertNotification) WithSupportData(key, value string) *AlertNotification {
	n.SupportData = putFirst(n.SupportData, key, value)
	return n
}

// WithSupportMessage sets support-only text when none is set yet.
func (n *AlertNotification) WithSupportMessage(message string) *AlertNotification {
	if n.SupportMessage == "" && strings.TrimSpace(message) != "" {
		n.SupportMessage = message
	}
	return n
}

// WithAttachment appends a file unless its name is already attached or content is empty.
func (n *AlertNotification) WithAttachment(name, contentType string, content []byte) *AlertNotification {
	if strings.TrimSpace(name) == "" || len(content) == 0 {
		return n
	}
	for _, existing := range n.Attachments {
		if existing.Name == name {
			return n
		}
	}
	n.Attachments = append(n.Attachments, Attachment{Name: name, ContentType: contentType, Content: content})
	return n
}

// WithSource sets producer name when none is set yet.
func (n *AlertNotification) WithSource(source string) *AlertNotification {
	if n.Source == "" && strings.TrimSpace(source) != "" {
		n.Source = source
	}
	return n
}

// Resolving marks the notification as a condition-cleared item.
func (n *AlertNotification) Resolving() *AlertNotification {
	n.AutoResolve = true
	return n
}

// Origin returns the definition that produced the notification, nil when not stamped.
func (n *AlertNotification) Origin() AlertDefinition {
	return n.origin
}

// StampOrigin records the producing definition and defaults Source.
// Params: producing definition.
// Returns: none.
func (n *AlertNotification) StampOrigin(def AlertDefinition) {
	n.origin = def
	if strings.TrimSpace(n.Source) == "" {
		n.Source = DefaultSource
	}
}

// Subject renders the notification subject line.
func (n *AlertNotification) Subject() string {
	return FormatSubject(n.AlertType, n.Severity, n.SiteID, n.ConnectorName, n.AutoResolve)
}

// OriginKey derives the alert key from the originating definition,
// falling back to the stored key for notifications without an origin.
func (n *AlertNotification) OriginKey() string {
	if n.origin == nil {
		return n.AlertKey
	}
	return DefinitionKey(n.origin)
}

func putFirst(values map[string]string, key, value string) map[string]string {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
		return values
	}
	if values == nil {
		values = make(map[string]string)
	}
	if _, exists := values[key]; exists {
		return values
	}
	values[key] = value
	return values
}
