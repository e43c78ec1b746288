package notify

import "context"

// SendResult is what a channel reports for one delivery attempt.
// InvalidTarget marks a recipient the channel will never reach again.
type SendResult struct {
	Sent          bool
	ExternalID    string
	Error         string
	InvalidTarget bool
}

type PushChannel interface {
	Send(ctx context.Context, title, body, target string) SendResult
}

type SMSChannel interface {
	Send(ctx context.Context, phone, body string) SendResult
}

type WebhookChannel interface {
	Send(ctx context.Context, phone, body, eventType string, metadata map[string]string) SendResult
}

type PushFunc func(ctx context.Context, title, body, target string) SendResult

func (f PushFunc) Send(ctx context.Context, title, body, target string) SendResult {
	return f(ctx, title, body, target)
}

type SMSFunc func(ctx context.Context, phone, body string) SendResult

func (f SMSFunc) Send(ctx context.Context, phone, body string) SendResult {
	return f(ctx, phone, body)
}

type WebhookFunc func(ctx context.Context, phone, body, eventType string, metadata map[string]string) SendResult

func (f WebhookFunc) Send(ctx context.Context, phone, body, eventType string, metadata map[string]string) SendResult {
	return f(ctx, phone, body, eventType, metadata)
}

// Channels is the configured delivery set. A nil channel is unconfigured.
// In-app delivery has no collaborator; enabling it only writes the audit row.
type Channels struct {
	Push    PushChannel
	SMS     SMSChannel
	Webhook WebhookChannel
	InApp   bool
}

type ChannelUnavailableError struct {
	Channel string
}

func (e *ChannelUnavailableError) Error() string {
	return "channel " + e.Channel + " is not configured"
}
