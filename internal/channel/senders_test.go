package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/logging"
	"alertresolver/internal/permanent"

	"github.com/segmentio/kafka-go"
)

func renderedMessage(t *testing.T, action Action) Message {
	t.Helper()

	templates, err := compileTemplates("ops", config.ChannelTypeWebhook, config.TemplateConfig{})
	if err != nil {
		t.Fatalf("compile templates: %v", err)
	}
	item := testNotification("Offline", "C1")
	if action == ActionResolve {
		item.Resolving()
	}
	msg, err := templates.render("ops", action, item)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return msg
}

func TestTelegramSenderSend(t *testing.T) {
	t.Parallel()

	type sendMessagePayload struct {
		ChatID    string
		Text      string
		ParseMode string
	}

	var (
		mu       sync.Mutex
		received []sendMessagePayload
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(2 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		received = append(received, sendMessagePayload{
			ChatID:    r.FormValue("chat_id"),
			Text:      r.FormValue("text"),
			ParseMode: r.FormValue("parse_mode"),
		})
		messageID := 100 + len(received)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":1,"type":"private"}}}`, messageID)
	}))
	defer server.Close()

	sender, err := NewTelegramSender(config.TelegramConfig{BotToken: "token", ChatID: "-1001", APIBase: server.URL})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), Message{Text: "<b>offline</b>"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 request, got %d", len(received))
	}
	if received[0].ChatID != "-1001" || received[0].ParseMode != "HTML" || received[0].Text != "<b>offline</b>" {
		t.Fatalf("unexpected payload %+v", received[0])
	}
}

func TestTelegramSenderUploadsRaiseAttachments(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		paths     []string
		documents = map[string]string{}
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(2 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		paths = append(paths, r.URL.Path)
		if file, header, err := r.FormFile("document"); err == nil {
			body, _ := io.ReadAll(file)
			documents[header.Filename] = string(body)
			_ = file.Close()
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":1,"chat":{"id":1,"type":"private"}}}`)
	}))
	defer server.Close()

	sender, err := NewTelegramSender(config.TelegramConfig{BotToken: "token", ChatID: "1", APIBase: server.URL})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	item := testNotification("Offline", "C1").WithAttachment("connector.json", "application/json", []byte(`{"connector_id":"C1"}`))
	if err := sender.Send(context.Background(), Message{Action: ActionRaise, Text: "offline", Notification: item}); err != nil {
		t.Fatalf("send raise: %v", err)
	}
	if err := sender.Send(context.Background(), Message{Action: ActionResolve, Text: "resolved", Notification: item}); err != nil {
		t.Fatalf("send resolve: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/bottoken/sendMessage", "/bottoken/sendDocument", "/bottoken/sendMessage"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", paths)
	}
	if documents["connector.json"] != `{"connector_id":"C1"}` {
		t.Fatalf("unexpected uploaded documents %v", documents)
	}
}

func TestNewTelegramSenderRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegramSender(config.TelegramConfig{ChatID: "1"}); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := NewTelegramSender(config.TelegramConfig{BotToken: "token"}); err == nil {
		t.Fatalf("expected chat id error")
	}
}

func TestNormalizeChatID(t *testing.T) {
	t.Parallel()

	if got := normalizeChatID(" -100123 "); got != int64(-100123) {
		t.Fatalf("expected numeric chat id, got %#v", got)
	}
	if got := normalizeChatID("@ops_alerts"); got != "@ops_alerts" {
		t.Fatalf("expected username chat id, got %#v", got)
	}
}

func TestSlackSenderSend(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		forms []map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		forms = append(forms, map[string]string{
			"channel": r.FormValue("channel"),
			"text":    r.FormValue("text"),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer server.Close()

	sender, err := NewSlackSender(config.SlackConfig{Token: "xoxb-test", ChannelID: "C123", APIURL: server.URL})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), Message{Text: "offline"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(forms) != 1 || forms[0]["channel"] != "C123" || forms[0]["text"] != "offline" {
		t.Fatalf("unexpected slack requests %v", forms)
	}
}

func TestSlackSenderAPIErrorIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	sender, err := NewSlackSender(config.SlackConfig{Token: "xoxb-test", ChannelID: "C404", APIURL: server.URL})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = sender.Send(context.Background(), Message{Text: "offline"})
	if err == nil || !permanent.Is(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error code in %v", err)
	}
}

func TestWebhookSenderRaiseAndResolve(t *testing.T) {
	t.Parallel()

	type requestSnapshot struct {
		Method string
		Path   string
		Auth   string
		Extra  string
		Body   eventPayload
	}

	var (
		mu       sync.Mutex
		requests []requestSnapshot
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		snapshot := requestSnapshot{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Extra:  r.Header.Get("X-Source"),
		}
		if err := json.Unmarshal(raw, &snapshot.Body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		requests = append(requests, snapshot)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewWebhookSender("ops", config.WebhookConfig{
		BaseURL:       server.URL,
		RaisePath:     "/alerts",
		ResolvePath:   "/alerts/{{.Notification.AlertKey}}/resolve",
		Method:        http.MethodPost,
		TimeoutSec:    2,
		Headers:       map[string]string{"X-Source": "alertresolver"},
		Auth:          config.AuthConfig{Type: "bearer", Token: "secret"},
		SuccessStatus: []int{http.StatusAccepted},
	})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	raise := renderedMessage(t, ActionRaise)
	if err := sender.Send(context.Background(), raise); err != nil {
		t.Fatalf("raise: %v", err)
	}
	resolve := renderedMessage(t, ActionResolve)
	if err := sender.Send(context.Background(), resolve); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	if requests[0].Path != "/alerts" || requests[0].Auth != "Bearer secret" || requests[0].Extra != "alertresolver" {
		t.Fatalf("unexpected raise request %+v", requests[0])
	}
	if requests[0].Body.Action != ActionRaise || requests[0].Body.Alert == nil || requests[0].Body.Alert.AlertKey != raise.Notification.AlertKey {
		t.Fatalf("unexpected raise body %+v", requests[0].Body)
	}
	if requests[1].Path != "/alerts/Offline:S1:C1/resolve" || requests[1].Body.Action != ActionResolve {
		t.Fatalf("unexpected resolve request %+v", requests[1])
	}
}

func TestWebhookSenderStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, permanent: false},
		{name: "server error", status: http.StatusBadGateway, permanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			sender, err := NewWebhookSender("ops", config.WebhookConfig{
				BaseURL:       server.URL,
				Method:        http.MethodPost,
				TimeoutSec:    2,
				SuccessStatus: []int{http.StatusOK},
			})
			if err != nil {
				t.Fatalf("new sender: %v", err)
			}
			err = sender.Send(context.Background(), renderedMessage(t, ActionRaise))
			if err == nil {
				t.Fatalf("expected error")
			}
			if permanent.Is(err) != tt.permanent {
				t.Fatalf("permanent=%v for %v", permanent.Is(err), err)
			}
			if !strings.Contains(err.Error(), "body=nope") {
				t.Fatalf("expected response body in error, got %v", err)
			}
		})
	}
}

func TestResolveWebhookURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		path string
		want string
	}{
		{base: "http://hooks/", path: "alerts", want: "http://hooks/alerts"},
		{base: "http://hooks", path: "/alerts", want: "http://hooks/alerts"},
		{base: "http://hooks", path: "", want: "http://hooks"},
		{base: "http://hooks", path: "https://other/x", want: "https://other/x"},
	}
	for _, tt := range tests {
		got, err := resolveWebhookURL(tt.base, tt.path)
		if err != nil || got != tt.want {
			t.Fatalf("resolveWebhookURL(%q, %q)=%q, %v", tt.base, tt.path, got, err)
		}
	}
}

type fakeKafkaWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.written = append(w.written, msgs...)
	return w.err
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaSenderSendBatch(t *testing.T) {
	t.Parallel()

	writer := &fakeKafkaWriter{}
	sender := &KafkaSender{writer: writer}

	first := renderedMessage(t, ActionRaise)
	second := renderedMessage(t, ActionResolve)
	errs := sender.SendBatch(context.Background(), []Message{first, second})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}
	if len(writer.written) != 2 {
		t.Fatalf("expected one write of 2 messages, got %d", len(writer.written))
	}
	if string(writer.written[0].Key) != first.Notification.AlertKey {
		t.Fatalf("expected alert key as message key, got %q", writer.written[0].Key)
	}
	var payload eventPayload
	if err := json.Unmarshal(writer.written[1].Value, &payload); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if payload.Action != ActionResolve || payload.Alert == nil || !payload.Alert.AutoResolve {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestKafkaSenderSplitsWriteErrors(t *testing.T) {
	t.Parallel()

	writer := &fakeKafkaWriter{err: kafka.WriteErrors{nil, errors.New("leader not available")}}
	sender := &KafkaSender{writer: writer}

	errs := sender.SendBatch(context.Background(), []Message{renderedMessage(t, ActionRaise), renderedMessage(t, ActionRaise)})
	if errs[0] != nil || errs[1] == nil {
		t.Fatalf("expected only second message to fail, got %v", errs)
	}

	writer.err = errors.New("broker down")
	errs = sender.SendBatch(context.Background(), []Message{renderedMessage(t, ActionRaise)})
	if errs[0] == nil || !strings.Contains(errs[0].Error(), "broker down") {
		t.Fatalf("expected batch error, got %v", errs)
	}
}

func TestNewKafkaSenderValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaSender(config.KafkaConfig{Topic: "alerts"}); err == nil {
		t.Fatalf("expected brokers error")
	}
	sender, err := NewKafkaSender(config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "alerts", RequiredAcks: -1})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuildCreatesChannelsInNameOrder(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Channel: map[string]config.ChannelConfig{
		"pager": {Type: config.ChannelTypeTelegram, Enabled: true, ActiveAlertTTLSec: 60, Telegram: config.TelegramConfig{BotToken: "t", ChatID: "1", APIBase: "http://127.0.0.1:1"}},
		"audit": {Type: config.ChannelTypeKafka, Enabled: false, ActiveAlertTTLSec: 60},
	}}
	set, err := Build(cfg, logging.Nop(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer set.Close()

	channels := set.CreateChannels()
	if len(channels) != 2 || channels[0].Name() != "audit" || channels[1].Name() != "pager" {
		t.Fatalf("unexpected channels %v", channels)
	}
	if channels[0].IsEnabled() || !channels[1].IsEnabled() {
		t.Fatalf("unexpected enabled flags")
	}
	results, err := channels[0].Notify(context.Background(), []*domain.AlertNotification{testNotification("Offline", "C1")})
	if err != nil {
		t.Fatalf("notify disabled: %v", err)
	}
	if results[0].Success || !permanent.Is(results[0].Err) {
		t.Fatalf("disabled channel must reject sends, got %+v", results[0])
	}
}

func TestBuildRejectsUnknownType(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Channel: map[string]config.ChannelConfig{"x": {Type: "pigeon", Enabled: true}}}
	if _, err := Build(cfg, logging.Nop(), nil); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}
