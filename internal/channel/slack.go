package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alertresolver/internal/config"
	"alertresolver/internal/permanent"

	"github.com/slack-go/slack"
)

// SlackSender posts messages to one Slack channel through the Web API.
type SlackSender struct {
	client    *slack.Client
	channelID string
}

// NewSlackSender creates Slack sender.
// Params: Slack channel config.
// Returns: initialized sender or config error.
func NewSlackSender(cfg config.SlackConfig) (*SlackSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is required")
	}
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, errors.New("slack channel_id is required")
	}

	var options []slack.Option
	if apiURL := strings.TrimSpace(cfg.APIURL); apiURL != "" {
		options = append(options, slack.OptionAPIURL(strings.TrimRight(apiURL, "/")+"/"))
	}
	return &SlackSender{
		client:    slack.New(cfg.Token, options...),
		channelID: strings.TrimSpace(cfg.ChannelID),
	}, nil
}

// Send posts one message; Slack API errors (bad channel, auth) are not retried.
func (s *SlackSender) Send(ctx context.Context, msg Message) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(msg.Text, false))
	if err == nil {
		return nil
	}
	err = fmt.Errorf("slack send: %w", err)
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return permanent.Mark(err)
	}
	return err
}
