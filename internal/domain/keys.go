package domain

import "strings"

// AlertKey builds the channel-independent identity of a logical problem.
// Params: alert type, site id, and connector id; each is trimmed.
// Returns: "{type}:{site}:{connector}".
func AlertKey(alertType, siteID, connectorID string) string {
	return strings.TrimSpace(alertType) + ":" + strings.TrimSpace(siteID) + ":" + strings.TrimSpace(connectorID)
}

// ChannelKey namespaces an alert key by channel for the active-alert ledger.
// Params: alert key and channel name.
// Returns: "{alertKey}:{channel}".
func ChannelKey(alertKey, channel string) string {
	return strings.TrimSpace(alertKey) + ":" + strings.TrimSpace(channel)
}

// ChannelKeys maps notifications to their channel-scoped keys, preserving order.
func ChannelKeys(items []*AlertNotification, channel string) []string {
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, ChannelKey(item.AlertKey, channel))
	}
	return keys
}
