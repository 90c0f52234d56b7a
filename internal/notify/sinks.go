package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	availableFormat = "【空きあり】%s\n%s"
	noVacancyText   = "現在、指定条件に合う空きはありません。"
	errorFormat     = "【エラー】監視処理に失敗しました: %v"
)

// AvailableText renders the slot-available message.
func AvailableText(label, url string) string { return fmt.Sprintf(availableFormat, label, url) }

// NoVacancyText renders the no-vacancy message.
func NoVacancyText() string { return noVacancyText }

// ErrorText renders the run-failure message.
func ErrorText(err error) string { return fmt.Sprintf(errorFormat, err) }

type payload struct {
	Text string `json:"text"`
}

// WebhookSink posts {"text": ...} JSON to an incoming-webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhookSink returns a sink posting to url. A zero timeout defaults to
// ten seconds.
func NewWebhookSink(url string, timeout time.Duration, log *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}, log: log.Named("webhook")}
}

func (w *WebhookSink) NotifyAvailable(ctx context.Context, label, url string) {
	w.send(ctx, AvailableText(label, url))
}

func (w *WebhookSink) NotifyNoVacancy(ctx context.Context) { w.send(ctx, NoVacancyText()) }

func (w *WebhookSink) NotifyError(ctx context.Context, err error) { w.send(ctx, ErrorText(err)) }

func (w *WebhookSink) send(ctx context.Context, text string) {
	if err := w.post(ctx, text); err != nil {
		w.log.Error("webhook delivery failed", zap.Error(err))
	}
}

func (w *WebhookSink) post(ctx context.Context, text string) error {
	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSink writes notifications to the log. It is the fallback when no
// webhook is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log.Named("notify")} }

func (l *LogSink) NotifyAvailable(_ context.Context, label, url string) {
	l.log.Info("slot available", zap.String("label", label), zap.String("url", url))
}

func (l *LogSink) NotifyNoVacancy(context.Context) { l.log.Info("no vacancy") }

func (l *LogSink) NotifyError(_ context.Context, err error) {
	l.log.Error("run failed", zap.Error(err))
}

// Multi fans every notification out to all sinks in order.
type Multi []Sink

func (m Multi) NotifyAvailable(ctx context.Context, label, url string) {
	for _, s := range m {
		s.NotifyAvailable(ctx, label, url)
	}
}

func (m Multi) NotifyNoVacancy(ctx context.Context) {
	for _, s := range m {
		s.NotifyNoVacancy(ctx)
	}
}

func (m Multi) NotifyError(ctx context.Context, err error) {
	for _, s := range m {
		s.NotifyError(ctx, err)
	}
}
