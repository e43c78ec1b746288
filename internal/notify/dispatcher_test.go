package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
	"qms/queue-service/internal/store/memory"
)

type fakeDeactivator struct {
	mu      sync.Mutex
	targets []string
}

func (f *fakeDeactivator) DeactivatePushTarget(ctx context.Context, tenantID, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return nil
}

func calledEvent() Event {
	station := "st-1"
	return Event{
		TenantID: "t1",
		TicketID: "tk-1",
		Type:     "ticket.called",
		Payload: store.EventPayload{
			TicketID:      "tk-1",
			TicketNumber:  "A-007",
			StationID:     &station,
			StationNumber: "4",
			Phone:         "+628111222333",
			PushTarget:    "device-1",
		},
	}
}

func TestRenderTemplate(t *testing.T) {
	got := renderTemplate("Ticket {ticket_number} to station {station_number}, {position} ahead", Vars{TicketNumber: "A-001", StationNumber: "C-01", Position: 2})
	if got != "Ticket A-001 to station C-01, 2 ahead" {
		t.Fatalf("unexpected template render: %s", got)
	}
	if _, body, ok := Render(LangIndonesian, "ticket.called", Vars{TicketNumber: "A-1", StationNumber: "3"}); !ok || !strings.Contains(body, "loket 3") {
		t.Fatalf("unexpected indonesian body %q", body)
	}
	if _, body, ok := Render("fr", "ticket.created", Vars{TicketNumber: "A-1"}); !ok || !strings.Contains(body, "A-1") {
		t.Fatalf("unknown language must fall back to english, got %q", body)
	}
	if _, _, ok := Render(LangEnglish, "ticket.held", Vars{}); ok {
		t.Fatalf("held has no template")
	}
}

func TestDispatchRecordsEveryChannel(t *testing.T) {
	st := memory.NewStore()
	deactivator := &fakeDeactivator{}
	smsBodies := make(chan string, 1)

	d := NewDispatcher(st, DispatcherConfig{
		Channels: Channels{
			Push: PushFunc(func(ctx context.Context, title, body, target string) SendResult {
				return SendResult{Error: "unregistered", InvalidTarget: true}
			}),
			SMS: SMSFunc(func(ctx context.Context, phone, body string) SendResult {
				smsBodies <- body
				return SendResult{Sent: true, ExternalID: "sms-42"}
			}),
			InApp: true,
		},
		Deactivator: deactivator,
	})

	records := d.Dispatch(context.Background(), calledEvent())
	if len(records) != 4 {
		t.Fatalf("expected one record per channel, got %d", len(records))
	}
	byChannel := map[string]models.NotificationRecord{}
	for _, record := range records {
		byChannel[record.Channel] = record
	}

	if r := byChannel[models.ChannelSMS]; r.Status != models.NotificationSent || r.ExternalID != "sms-42" || r.Recipient != "+628111222333" {
		t.Fatalf("unexpected sms record %+v", r)
	}
	if body := <-smsBodies; !strings.Contains(body, "A-007") || !strings.Contains(body, "station 4") {
		t.Fatalf("unexpected sms body %q", body)
	}
	if r := byChannel[models.ChannelPush]; r.Status != models.NotificationFailed || r.Error == "" {
		t.Fatalf("unexpected push record %+v", r)
	}
	if len(deactivator.targets) != 1 || deactivator.targets[0] != "device-1" {
		t.Fatalf("invalid push target not deactivated: %v", deactivator.targets)
	}
	if r := byChannel[models.ChannelWebhook]; r.Status != models.NotificationFailed || !strings.Contains(r.Error, "not configured") {
		t.Fatalf("unconfigured webhook must record a failure, got %+v", r)
	}
	if r := byChannel[models.ChannelInApp]; r.Status != models.NotificationSent {
		t.Fatalf("unexpected in-app record %+v", r)
	}

	stored, _ := st.ListNotifications(context.Background(), "t1", "tk-1")
	if len(stored) != 4 {
		t.Fatalf("expected 4 audit rows, got %d", len(stored))
	}
	for _, record := range stored {
		if record.Status == models.NotificationPending {
			t.Fatalf("record %s left pending", record.Channel)
		}
	}
}

func TestDispatchTwiceCreatesIndependentAttempts(t *testing.T) {
	st := memory.NewStore()
	d := NewDispatcher(st, DispatcherConfig{
		Channels: Channels{SMS: SMSFunc(func(context.Context, string, string) SendResult { return SendResult{Sent: true} })},
		Enabled:  []string{models.ChannelSMS},
	})
	first := d.Dispatch(context.Background(), calledEvent())
	second := d.Dispatch(context.Background(), calledEvent())
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one record per dispatch")
	}
	if first[0].Attempt != 1 || second[0].Attempt != 2 || first[0].NotificationID == second[0].NotificationID {
		t.Fatalf("expected attempts 1 and 2, got %d and %d", first[0].Attempt, second[0].Attempt)
	}
}

func TestDispatchTimesOutSlowChannel(t *testing.T) {
	st := memory.NewStore()
	d := NewDispatcher(st, DispatcherConfig{
		Channels: Channels{
			SMS: SMSFunc(func(ctx context.Context, phone, body string) SendResult {
				<-ctx.Done()
				return SendResult{Error: ctx.Err().Error()}
			}),
			InApp: true,
		},
		Enabled: []string{models.ChannelSMS, models.ChannelInApp},
		Timeout: 20 * time.Millisecond,
	})

	started := time.Now()
	records := d.Dispatch(context.Background(), calledEvent())
	if time.Since(started) > 2*time.Second {
		t.Fatalf("dispatch did not honour the channel timeout")
	}
	if len(records) != 2 || records[0].Status != models.NotificationFailed || records[1].Status != models.NotificationSent {
		t.Fatalf("slow channel must fail without blocking others: %+v", records)
	}
}

func TestDispatchMissingRecipient(t *testing.T) {
	st := memory.NewStore()
	d := NewDispatcher(st, DispatcherConfig{
		Channels: Channels{SMS: SMSFunc(func(context.Context, string, string) SendResult {
			t.Fatal("sms must not be sent without a phone")
			return SendResult{}
		})},
		Enabled: []string{models.ChannelSMS},
	})
	event := calledEvent()
	event.Payload.Phone = ""
	records := d.Dispatch(context.Background(), event)
	if len(records) != 1 || records[0].Status != models.NotificationFailed || records[0].Error == "" {
		t.Fatalf("expected failed record, got %+v", records)
	}
}
