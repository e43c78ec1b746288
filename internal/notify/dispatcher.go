package notify

import (
	"context"
	"log"
	"time"

	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"golang.org/x/sync/errgroup"
)

type Recorder interface {
	InsertNotification(ctx context.Context, record models.NotificationRecord) (models.NotificationRecord, error)
	MarkNotificationSent(ctx context.Context, notificationID, externalID string, sentAt time.Time) error
	MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error
}

type Deactivator interface {
	DeactivatePushTarget(ctx context.Context, tenantID, target string) error
}

// Event is one notifiable transition, decoded from the outbox.
type Event struct {
	TenantID string
	TicketID string
	Type     string
	Payload  store.EventPayload
	Position int
	Minutes  int
}

type DispatcherConfig struct {
	Channels    Channels
	Enabled     []string
	Timeout     time.Duration
	Lang        string
	Deactivator Deactivator
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Dispatcher delivers one event on every enabled channel. Channels run
// concurrently with their own timeout, and each attempt is its own record.
type Dispatcher struct {
	records     Recorder
	channels    Channels
	enabled     []string
	timeout     time.Duration
	lang        string
	deactivator Deactivator
	metrics     *metrics.Metrics
	now         func() time.Time
}

var channelOrder = []string{models.ChannelPush, models.ChannelSMS, models.ChannelWebhook, models.ChannelInApp}

func NewDispatcher(records Recorder, cfg DispatcherConfig) *Dispatcher {
	enabled := cfg.Enabled
	if len(enabled) == 0 {
		enabled = channelOrder
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	lang := cfg.Lang
	if lang == "" {
		lang = LangEnglish
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		records:     records,
		channels:    cfg.Channels,
		enabled:     ordered(enabled),
		timeout:     timeout,
		lang:        lang,
		deactivator: cfg.Deactivator,
		metrics:     cfg.Metrics,
		now:         now,
	}
}

func ordered(enabled []string) []string {
	set := make(map[string]bool, len(enabled))
	for _, channel := range enabled {
		set[channel] = true
	}
	var out []string
	for _, channel := range channelOrder {
		if set[channel] {
			out = append(out, channel)
		}
	}
	return out
}

// Dispatch never returns an error: failures only show up in the returned
// records and the audit table.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) []models.NotificationRecord {
	title, body, ok := Render(d.lang, event.Type, Vars{
		TicketNumber:  event.Payload.TicketNumber,
		StationNumber: event.Payload.StationNumber,
		ServiceName:   event.Payload.ServiceName,
		Position:      event.Position,
		Minutes:       event.Minutes,
	})
	if !ok {
		return nil
	}

	results := make([]models.NotificationRecord, len(d.enabled))
	var group errgroup.Group
	for i, channel := range d.enabled {
		i, channel := i, channel
		group.Go(func() error {
			results[i] = d.attempt(ctx, event, channel, title, body)
			return nil
		})
	}
	_ = group.Wait()

	records := results[:0]
	for _, record := range results {
		if record.NotificationID != "" {
			records = append(records, record)
		}
	}
	return records
}

func (d *Dispatcher) attempt(ctx context.Context, event Event, channel, title, body string) models.NotificationRecord {
	record, err := d.records.InsertNotification(ctx, models.NotificationRecord{
		TenantID:  event.TenantID,
		TicketID:  event.TicketID,
		EventType: event.Type,
		Channel:   channel,
		Recipient: d.recipient(channel, event),
		Title:     title,
		Body:      body,
		Status:    models.NotificationPending,
		CreatedAt: d.now(),
	})
	if err != nil {
		log.Printf("notif record error channel=%s ticket=%s: %v", channel, event.TicketID, err)
		return models.NotificationRecord{}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.send(sendCtx, channel, record, event)

	if result.InvalidTarget && channel == models.ChannelPush && d.deactivator != nil {
		if err := d.deactivator.DeactivatePushTarget(ctx, event.TenantID, record.Recipient); err != nil {
			log.Printf("notif deactivate error ticket=%s: %v", event.TicketID, err)
		}
	}

	if result.Sent {
		sentAt := d.now()
		if err := d.records.MarkNotificationSent(ctx, record.NotificationID, result.ExternalID, sentAt); err != nil {
			log.Printf("notif mark sent error id=%s: %v", record.NotificationID, err)
		}
		record.Status = models.NotificationSent
		record.ExternalID = result.ExternalID
		record.SentAt = &sentAt
	} else {
		if result.Error == "" {
			result.Error = "send failed"
		}
		if err := d.records.MarkNotificationFailed(ctx, record.NotificationID, result.Error); err != nil {
			log.Printf("notif mark failed error id=%s: %v", record.NotificationID, err)
		}
		log.Printf("notif send error channel=%s ticket=%s: %s", channel, event.TicketID, result.Error)
		record.Status = models.NotificationFailed
		record.Error = result.Error
	}
	d.metrics.Notification(channel, record.Status)
	return record
}

func (d *Dispatcher) recipient(channel string, event Event) string {
	switch channel {
	case models.ChannelPush:
		return event.Payload.PushTarget
	case models.ChannelSMS, models.ChannelWebhook:
		return event.Payload.Phone
	default:
		return event.TicketID
	}
}

func (d *Dispatcher) send(ctx context.Context, channel string, record models.NotificationRecord, event Event) SendResult {
	unavailable := func() SendResult {
		return SendResult{Error: (&ChannelUnavailableError{Channel: channel}).Error()}
	}
	missing := record.Recipient == "" && channel != models.ChannelInApp
	noRecipient := SendResult{Error: "no recipient for channel " + channel}

	switch channel {
	case models.ChannelPush:
		if d.channels.Push == nil {
			return unavailable()
		}
		if missing {
			return noRecipient
		}
		return d.channels.Push.Send(ctx, record.Title, record.Body, record.Recipient)
	case models.ChannelSMS:
		if d.channels.SMS == nil {
			return unavailable()
		}
		if missing {
			return noRecipient
		}
		return d.channels.SMS.Send(ctx, record.Recipient, record.Body)
	case models.ChannelWebhook:
		if d.channels.Webhook == nil {
			return unavailable()
		}
		if missing {
			return noRecipient
		}
		metadata := map[string]string{
			"ticket_id":      event.TicketID,
			"ticket_number":  event.Payload.TicketNumber,
			"branch_id":      event.Payload.BranchID,
			"service_id":     event.Payload.ServiceID,
			"station_number": event.Payload.StationNumber,
			"status":         event.Payload.Status,
		}
		return d.channels.Webhook.Send(ctx, record.Recipient, record.Body, event.Type, metadata)
	case models.ChannelInApp:
		if !d.channels.InApp {
			return unavailable()
		}
		return SendResult{Sent: true}
	default:
		return unavailable()
	}
}
