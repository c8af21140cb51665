package channel

import (
	"encoding/json"

	"alertresolver/internal/domain"
)

// eventPayload is the JSON document sent by structured transports (webhook, Kafka).
type eventPayload struct {
	Action  Action                    `json:"action"`
	Channel string                    `json:"channel"`
	Subject string                    `json:"subject"`
	Text    string                    `json:"text"`
	Alert   *domain.AlertNotification `json:"alert"`
}

func encodeEvent(msg Message) ([]byte, error) {
	return json.Marshal(eventPayload{
		Action:  msg.Action,
		Channel: msg.Channel,
		Subject: msg.Subject,
		Text:    msg.Text,
		Alert:   msg.Notification,
	})
}
