package channel

import (
	"fmt"
	"strings"
	"text/template"

	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/templatefmt"
)

const (
	defaultRaiseTemplate = `{{.Subject}}
{{.Message}}{{with kv .Data}}

{{.}}{{end}}`
	defaultResolveTemplate = `{{.Subject}}
{{.Message}}`

	// Telegram messages are sent with HTML parse mode.
	telegramRaiseTemplate = `<b>{{html .Subject}}</b>
{{html .Message}}{{with kv .Data}}

<pre>{{html .}}</pre>{{end}}`
	telegramResolveTemplate = `<b>{{html .Subject}}</b>
{{html .Message}}`
)

// messageView is the data passed to channel message templates.
type messageView struct {
	*domain.AlertNotification
	Channel string
	Action  Action
}

// messageTemplates holds the compiled raise and resolve bodies of one channel.
type messageTemplates struct {
	raise   *template.Template
	resolve *template.Template
}

// compileTemplates parses configured bodies, falling back to per-type defaults.
// Params: channel name, channel type, and template overrides.
// Returns: compiled templates or parse error.
func compileTemplates(name, channelType string, cfg config.TemplateConfig) (messageTemplates, error) {
	raiseBody, resolveBody := defaultTemplates(channelType)
	if strings.TrimSpace(cfg.Raise) != "" {
		raiseBody = cfg.Raise
	}
	if strings.TrimSpace(cfg.Resolve) != "" {
		resolveBody = cfg.Resolve
	}

	raise, err := templatefmt.Parse("channel."+name+".template.raise", raiseBody)
	if err != nil {
		return messageTemplates{}, err
	}
	resolve, err := templatefmt.Parse("channel."+name+".template.resolve", resolveBody)
	if err != nil {
		return messageTemplates{}, err
	}
	return messageTemplates{raise: raise, resolve: resolve}, nil
}

func defaultTemplates(channelType string) (string, string) {
	if channelType == config.ChannelTypeTelegram {
		return telegramRaiseTemplate, telegramResolveTemplate
	}
	return defaultRaiseTemplate, defaultResolveTemplate
}

// render builds the transport message for one notification.
func (t messageTemplates) render(channel string, action Action, item *domain.AlertNotification) (Message, error) {
	tmpl := t.raise
	if action == ActionResolve {
		tmpl = t.resolve
	}
	text, err := templatefmt.Render(tmpl, messageView{AlertNotification: item, Channel: channel, Action: action})
	if err != nil {
		return Message{}, fmt.Errorf("render %s template for channel %q: %w", action, channel, err)
	}
	return Message{
		Channel:      channel,
		Action:       action,
		Subject:      item.Subject(),
		Text:         text,
		Notification: item,
	}, nil
}
