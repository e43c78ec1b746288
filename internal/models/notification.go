package models

import "time"

const (
	ChannelPush    = "push"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
	ChannelInApp   = "in_app"
)

const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// NotificationRecord is one delivery attempt on one channel. Rows are never
// deduplicated; (TicketID, EventType, Channel, Attempt) identifies an attempt.
type NotificationRecord struct {
	NotificationID string     `json:"notification_id"`
	TenantID       string     `json:"tenant_id"`
	TicketID       string     `json:"ticket_id"`
	EventType      string     `json:"event_type"`
	Attempt        int        `json:"attempt"`
	Channel        string     `json:"channel"`
	Recipient      string     `json:"recipient"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	ExternalID     string     `json:"external_id,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

type Estimate struct {
	TicketID         string `json:"ticket_id,omitempty"`
	WaitingCount     int    `json:"waiting_count"`
	Position         int    `json:"position,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	ActiveAgents     int    `json:"active_agents"`
	Confidence       string `json:"confidence"`
	SampleSize       int    `json:"sample_size"`
	Degraded         bool   `json:"degraded,omitempty"`
}
