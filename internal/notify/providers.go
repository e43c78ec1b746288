package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// ProviderConfig selects a provider for one channel: "" or "none" leaves the
// channel unconfigured; "log", "noop" and "fail" are local providers;
// "webhook" posts JSON to URL; a bare http(s) URL is shorthand for webhook.
type ProviderConfig struct {
	Kind    string
	URL     string
	Token   string
	Timeout time.Duration
}

func NewPush(cfg ProviderConfig) PushChannel {
	switch kind(cfg) {
	case "log":
		return PushFunc(func(ctx context.Context, title, body, target string) SendResult {
			log.Printf("send push to %s: %s %s", target, title, body)
			return SendResult{Sent: true}
		})
	case "noop":
		return PushFunc(func(context.Context, string, string, string) SendResult { return SendResult{Sent: true} })
	case "fail":
		return PushFunc(func(context.Context, string, string, string) SendResult { return failed() })
	case "webhook":
		sender := newWebhookSender("push", cfg)
		return PushFunc(func(ctx context.Context, title, body, target string) SendResult {
			return sender.post(ctx, map[string]interface{}{"title": title, "body": body, "target": target})
		})
	default:
		return nil
	}
}

func NewSMS(cfg ProviderConfig) SMSChannel {
	switch kind(cfg) {
	case "log":
		return SMSFunc(func(ctx context.Context, phone, body string) SendResult {
			log.Printf("send sms to %s: %s", phone, body)
			return SendResult{Sent: true}
		})
	case "noop":
		return SMSFunc(func(context.Context, string, string) SendResult { return SendResult{Sent: true} })
	case "fail":
		return SMSFunc(func(context.Context, string, string) SendResult { return failed() })
	case "webhook":
		sender := newWebhookSender("sms", cfg)
		return SMSFunc(func(ctx context.Context, phone, body string) SendResult {
			return sender.post(ctx, map[string]interface{}{"recipient": phone, "message": body})
		})
	default:
		return nil
	}
}

func NewWebhook(cfg ProviderConfig) WebhookChannel {
	switch kind(cfg) {
	case "log":
		return WebhookFunc(func(ctx context.Context, phone, body, eventType string, metadata map[string]string) SendResult {
			log.Printf("send webhook %s to %s: %s", eventType, phone, body)
			return SendResult{Sent: true}
		})
	case "noop":
		return WebhookFunc(func(context.Context, string, string, string, map[string]string) SendResult { return SendResult{Sent: true} })
	case "fail":
		return WebhookFunc(func(context.Context, string, string, string, map[string]string) SendResult { return failed() })
	case "webhook":
		sender := newWebhookSender("webhook", cfg)
		return WebhookFunc(func(ctx context.Context, phone, body, eventType string, metadata map[string]string) SendResult {
			return sender.post(ctx, map[string]interface{}{
				"recipient":  phone,
				"message":    body,
				"event_type": eventType,
				"metadata":   metadata,
			})
		})
	default:
		return nil
	}
}

func kind(cfg ProviderConfig) string {
	k := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch {
	case k == "" || k == "none":
		return ""
	case k == "stub":
		return "log"
	case strings.HasPrefix(k, "http://") || strings.HasPrefix(k, "https://"):
		return "webhook"
	case k == "webhook" && cfg.URL == "":
		log.Printf("notif webhook provider without url, falling back to log")
		return "log"
	default:
		return k
	}
}

func failed() SendResult {
	return SendResult{Error: "provider failure"}
}

type webhookSender struct {
	channel string
	url     string
	token   string
	client  *http.Client
}

func newWebhookSender(channel string, cfg ProviderConfig) webhookSender {
	url := cfg.URL
	if url == "" {
		url = cfg.Kind
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return webhookSender{
		channel: channel,
		url:     url,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

type providerResponse struct {
	ID            string `json:"id"`
	MessageID     string `json:"message_id"`
	InvalidTarget bool   `json:"invalid_target"`
	Error         string `json:"error"`
}

func (p webhookSender) post(ctx context.Context, payload map[string]interface{}) SendResult {
	payload["channel"] = p.channel
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	var decoded providerResponse
	_ = json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode == http.StatusGone || decoded.InvalidTarget {
		return SendResult{Error: "target permanently invalid", InvalidTarget: true}
	}
	if resp.StatusCode >= 300 {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("provider rejected request: status %d", resp.StatusCode)
		}
		return SendResult{Error: msg}
	}
	externalID := decoded.ID
	if externalID == "" {
		externalID = decoded.MessageID
	}
	if externalID == "" {
		externalID = resp.Header.Get("X-Message-Id")
	}
	return SendResult{Sent: true, ExternalID: externalID}
}
