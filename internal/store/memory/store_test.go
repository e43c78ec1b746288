package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seeded() *Store {
	s := NewStore().WithClock(func() time.Time { return base.Add(time.Hour) })
	s.PutService(models.Service{ServiceID: "svc-a", TenantID: "t1", BranchID: "b1", Code: "A", Name: "Accounts", Active: true})
	s.PutService(models.Service{ServiceID: "svc-b", TenantID: "t1", BranchID: "b1", Code: "B", Name: "Billing", Active: true})
	s.PutStation(models.Station{StationID: "st-1", TenantID: "t1", BranchID: "b1", Number: "1", Active: true})
	s.PutStation(models.Station{StationID: "st-2", TenantID: "t1", BranchID: "b1", Number: "2", Active: true})
	return s
}

func create(t *testing.T, s *Store, serviceID string, priority int, offset time.Duration) models.Ticket {
	t.Helper()
	ticket, _, err := s.CreateTicket(context.Background(), store.CreateTicketInput{
		TenantID:  "t1",
		BranchID:  "b1",
		ServiceID: serviceID,
		Customer:  models.Customer{Name: "Guest"},
		Source:    models.SourceKiosk,
		Priority:  priority,
		CreatedAt: base.Add(offset),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestCreateTicketIdempotentAndNumbered(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	input := store.CreateTicketInput{RequestID: "req-1", TenantID: "t1", BranchID: "b1", ServiceID: "svc-a", Source: models.SourceWeb}

	first, created, err := s.CreateTicket(ctx, input)
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	again, created, err := s.CreateTicket(ctx, input)
	if err != nil || created {
		t.Fatalf("expected idempotent replay, got created=%v err=%v", created, err)
	}
	if again.TicketID != first.TicketID {
		t.Fatalf("replay returned a different ticket")
	}
	second := create(t, s, "svc-a", 0, 0)
	if first.TicketNumber != "A-001" || second.TicketNumber != "A-002" {
		t.Fatalf("unexpected numbers %s %s", first.TicketNumber, second.TicketNumber)
	}
}

func TestCreateTicketUnknownService(t *testing.T) {
	s := seeded()
	_, _, err := s.CreateTicket(context.Background(), store.CreateTicketInput{TenantID: "t1", BranchID: "b1", ServiceID: "missing"})
	if !errors.Is(err, store.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestClaimNextOrdersByPriorityThenAge(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	oldNormal := create(t, s, "svc-a", 0, 0)
	urgent := create(t, s, "svc-b", 3, 5*time.Minute)
	newNormal := create(t, s, "svc-a", 0, 10*time.Minute)

	want := []string{urgent.TicketID, oldNormal.TicketID, newNormal.TicketID}
	for i, id := range want {
		got, err := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1"})
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if got.TicketID != id {
			t.Fatalf("claim %d: got %s want %s", i, got.TicketNumber, id)
		}
		if _, err := s.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: got.TicketID, AgentID: "ag-1", Action: store.ActionCancel}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	}
	if _, err := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1"}); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
}

func TestClaimNextRespectsServiceScopeAndStationExclusivity(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	create(t, s, "svc-a", 3, 0)
	onlyB := create(t, s, "svc-b", 0, time.Minute)

	got, err := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1", ServiceIDs: []string{"svc-b"}})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.TicketID != onlyB.TicketID {
		t.Fatalf("claim ignored service scope")
	}
	if got.WaitSeconds == nil || *got.WaitSeconds <= 0 {
		t.Fatalf("expected wait seconds to be set")
	}
	if _, err := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1"}); !errors.Is(err, store.ErrStationBusy) {
		t.Fatalf("expected ErrStationBusy, got %v", err)
	}
}

func TestConcurrentClaimsReturnDistinctTickets(t *testing.T) {
	s := NewStore()
	const n = 20
	s.PutService(models.Service{ServiceID: "svc-a", TenantID: "t1", BranchID: "b1", Code: "A", Active: true})
	for i := 0; i <= n; i++ {
		s.PutStation(models.Station{StationID: stationName(i), TenantID: "t1", BranchID: "b1", Active: true})
	}
	for i := 0; i < n; i++ {
		create(t, s, "svc-a", i%3, time.Duration(i)*time.Second)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	empty := 0
	for i := 0; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := s.ClaimNext(context.Background(), store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: stationName(i), AgentID: "agent"})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, store.ErrNoTicket) {
				empty++
				return
			}
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if seen[ticket.TicketID] {
				t.Errorf("ticket %s claimed twice", ticket.TicketID)
			}
			seen[ticket.TicketID] = true
		}(i)
	}
	wg.Wait()

	if len(seen) != n || empty != 1 {
		t.Fatalf("expected %d distinct claims and 1 empty, got %d and %d", n, len(seen), empty)
	}
}

func stationName(i int) string {
	return "st-" + string(rune('a'+i))
}

func TestTransitionGuardLeavesTicketUnchanged(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	ticket := create(t, s, "svc-a", 0, 0)

	_, err := s.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: ticket.TicketID, AgentID: "ag-1", Action: store.ActionComplete})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	after, err := s.GetTicket(ctx, "t1", ticket.TicketID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != models.StatusWaiting || after.CompletedAt != nil {
		t.Fatalf("ticket changed after failed guard: %+v", after)
	}
	events, _ := s.ListTicketEvents(ctx, "t1", ticket.TicketID)
	if len(events) != 1 {
		t.Fatalf("expected only the creation event, got %d", len(events))
	}
}

func TestTransitionRequiresSameAgent(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	create(t, s, "svc-a", 0, 0)
	called, err := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = s.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: called.TicketID, AgentID: "ag-2", Action: store.ActionStart})
	if !errors.Is(err, store.ErrAgentMismatch) {
		t.Fatalf("expected ErrAgentMismatch, got %v", err)
	}

	started := base.Add(2 * time.Hour)
	serving, err := s.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: called.TicketID, AgentID: "ag-1", Action: store.ActionStart, OccurredAt: started})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := s.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: serving.TicketID, AgentID: "ag-1", Action: store.ActionComplete, OccurredAt: started.Add(7 * time.Minute)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.ServiceSeconds == nil || *done.ServiceSeconds != 420 {
		t.Fatalf("expected 420 service seconds, got %v", done.ServiceSeconds)
	}

	history, err := s.ServiceHistory(ctx, "t1", "b1", "svc-a", base, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.Samples != 1 || history.AvgServiceSeconds != 420 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestTransferClosesAndEnqueues(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	create(t, s, "svc-a", 1, 0)
	called, _ := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1"})
	if _, err := s.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: called.TicketID, AgentID: "ag-1", Action: store.ActionStart}); err != nil {
		t.Fatalf("start: %v", err)
	}

	closed, created, err := s.TransferTicket(ctx, store.TransferInput{TenantID: "t1", TicketID: called.TicketID, AgentID: "ag-1", ToServiceID: "svc-b", Reason: "needs billing", Priority: 1})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if closed.Status != models.StatusTransferred {
		t.Fatalf("expected transferred, got %s", closed.Status)
	}
	if created.Status != models.StatusWaiting || created.ServiceID != "svc-b" || created.TicketID == closed.TicketID {
		t.Fatalf("unexpected new ticket %+v", created)
	}
	if created.TicketNumber == closed.TicketNumber || created.TransferredFrom != closed.TicketID {
		t.Fatalf("new ticket must carry new number and link back: %+v", created)
	}
	if created.Notes != "transferred from A-001: needs billing" {
		t.Fatalf("unexpected note %q", created.Notes)
	}
}

func TestOutboxAndOffsets(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	create(t, s, "svc-a", 0, 0)
	create(t, s, "svc-a", 0, time.Second)

	events, err := s.ListOutboxEvents(ctx, store.OutboxOffset{}, 10)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 events, got %d err=%v", len(events), err)
	}
	offset := store.OutboxOffset{}.Advance(events[0])
	if err := s.UpdateOffset(ctx, store.ConsumerNotification, offset); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	saved, _ := s.GetOffset(ctx, store.ConsumerNotification)
	rest, _ := s.ListOutboxEvents(ctx, saved, 10)
	if len(rest) != 1 || rest[0].Seq != events[1].Seq {
		t.Fatalf("unexpected remainder %+v", rest)
	}
	other, _ := s.GetOffset(ctx, "audit")
	if other.LastSeq != 0 {
		t.Fatalf("consumers must not share offsets")
	}
	latest, _ := s.LatestOutboxOffset(ctx)
	if latest.LastEventID != events[1].EventID {
		t.Fatalf("unexpected latest offset %+v", latest)
	}
}

func TestNotificationAttemptsIncrease(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	record := models.NotificationRecord{TenantID: "t1", TicketID: "tk", EventType: "ticket.called", Channel: models.ChannelSMS}
	first, _ := s.InsertNotification(ctx, record)
	second, _ := s.InsertNotification(ctx, record)
	if first.Attempt != 1 || second.Attempt != 2 || first.NotificationID == second.NotificationID {
		t.Fatalf("unexpected attempts %d %d", first.Attempt, second.Attempt)
	}
	if err := s.MarkNotificationFailed(ctx, first.NotificationID, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := s.MarkNotificationSent(ctx, "missing", "", base); !errors.Is(err, store.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
	records, _ := s.ListNotifications(ctx, "t1", "tk")
	if len(records) != 2 || records[0].Status != models.NotificationFailed || records[1].Status != models.NotificationPending {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestAutoNoShowExpiresOldCalls(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	create(t, s, "svc-a", 0, 0)
	called, _ := s.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "ag-1", CalledAt: base})

	expired, err := s.AutoNoShow(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("auto no-show: %v", err)
	}
	if len(expired) != 1 || expired[0].TicketID != called.TicketID || expired[0].Status != models.StatusNoShow {
		t.Fatalf("unexpected expired set %+v", expired)
	}
	if _, busy, _ := s.GetActiveTicket(ctx, "t1", "st-1"); busy {
		t.Fatalf("station should be released")
	}
}
