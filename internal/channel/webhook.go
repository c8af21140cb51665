package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"alertresolver/internal/config"
	"alertresolver/internal/permanent"
	"alertresolver/internal/templatefmt"
)

// WebhookSender delivers raise and resolve actions to a generic HTTP endpoint.
// Params: base URL, per-action path templates, auth, headers, and success statuses.
// Returns: HTTP transport.
type WebhookSender struct {
	name          string
	cfg           config.WebhookConfig
	client        *http.Client
	raisePath     *template.Template
	resolvePath   *template.Template
	successStatus map[int]struct{}
}

// NewWebhookSender compiles action path templates and builds HTTP client.
// Params: channel name and webhook config.
// Returns: initialized sender or template error.
func NewWebhookSender(name string, cfg config.WebhookConfig) (*WebhookSender, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("webhook base_url is required")
	}
	raisePath, err := templatefmt.Parse("channel."+name+".webhook.raise_path", cfg.RaisePath)
	if err != nil {
		return nil, err
	}
	resolvePath := raisePath
	if strings.TrimSpace(cfg.ResolvePath) != "" {
		resolvePath, err = templatefmt.Parse("channel."+name+".webhook.resolve_path", cfg.ResolvePath)
		if err != nil {
			return nil, err
		}
	}

	successStatus := make(map[int]struct{}, len(cfg.SuccessStatus))
	for _, statusCode := range cfg.SuccessStatus {
		successStatus[statusCode] = struct{}{}
	}
	return &WebhookSender{
		name:          name,
		cfg:           cfg,
		client:        &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		raisePath:     raisePath,
		resolvePath:   resolvePath,
		successStatus: successStatus,
	}, nil
}

// Send posts the JSON event for one message.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	pathTemplate := s.raisePath
	if msg.Action == ActionResolve {
		pathTemplate = s.resolvePath
	}
	pathValue, err := templatefmt.Render(pathTemplate, msg)
	if err != nil {
		return permanent.Mark(fmt.Errorf("webhook %s render path: %w", s.name, err))
	}
	targetURL, err := resolveWebhookURL(s.cfg.BaseURL, pathValue)
	if err != nil {
		return permanent.Mark(fmt.Errorf("webhook %s resolve url: %w", s.name, err))
	}
	body, err := encodeEvent(msg)
	if err != nil {
		return permanent.Mark(fmt.Errorf("webhook %s encode payload: %w", s.name, err))
	}

	request, err := http.NewRequestWithContext(ctx, s.cfg.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("webhook %s build request: %w", s.name, err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}
	applyWebhookAuth(request, s.cfg.Auth)

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook %s send: %w", s.name, err)
	}
	defer response.Body.Close()

	if _, ok := s.successStatus[response.StatusCode]; ok {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	statusErr := unexpectedHTTPStatusError("webhook "+s.name, response)
	if isClientError(response.StatusCode) {
		return permanent.Mark(statusErr)
	}
	return statusErr
}

// isClientError reports 4xx statuses that a retry cannot fix.
func isClientError(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// resolveWebhookURL combines base URL with rendered action path.
// Params: base URL and rendered path or absolute URL.
// Returns: absolute request URL.
func resolveWebhookURL(baseURL, pathOrURL string) (string, error) {
	trimmedPath := strings.TrimSpace(pathOrURL)
	if strings.HasPrefix(trimmedPath, "http://") || strings.HasPrefix(trimmedPath, "https://") {
		if _, err := url.Parse(trimmedPath); err != nil {
			return "", err
		}
		return trimmedPath, nil
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", errors.New("empty base_url")
	}
	if trimmedPath == "" {
		return base, nil
	}
	if strings.HasPrefix(trimmedPath, "/") {
		return base + trimmedPath, nil
	}
	return base + "/" + trimmedPath, nil
}

// applyWebhookAuth injects configured auth headers into the request.
// Params: mutable request pointer and auth config.
// Returns: request mutated in place.
func applyWebhookAuth(request *http.Request, cfg config.AuthConfig) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return
	case "bearer":
		prefix := strings.TrimSpace(cfg.Prefix)
		if prefix == "" {
			prefix = "Bearer"
		}
		request.Header.Set("Authorization", prefix+" "+strings.TrimSpace(cfg.Token))
	case "basic":
		credentials := strings.TrimSpace(cfg.Username) + ":" + strings.TrimSpace(cfg.Password)
		request.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
	case "header":
		header := strings.TrimSpace(cfg.Header)
		if header == "" {
			return
		}
		token := strings.TrimSpace(cfg.Token)
		if prefix := strings.TrimSpace(cfg.Prefix); prefix != "" {
			token = prefix + " " + token
		}
		request.Header.Set(header, token)
	}
}

// unexpectedHTTPStatusError formats a non-success HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4<<10))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
