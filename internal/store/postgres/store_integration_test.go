package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestClaimNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	stationA, stationB := uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, stationA, stationB)

	createTicket(t, ctx, st, tenantID, branchID, serviceID, uuid.NewString())
	createTicket(t, ctx, st, tenantID, branchID, serviceID, uuid.NewString())

	var wg sync.WaitGroup
	results := make(chan claimResult, 2)
	for _, stationID := range []string{stationA, stationB} {
		wg.Add(1)
		go func(stationID string) {
			defer wg.Done()
			ticket, err := st.ClaimNext(ctx, store.ClaimInput{
				TenantID:  tenantID,
				BranchID:  branchID,
				StationID: stationID,
				AgentID:   "agent-" + stationID,
			})
			results <- claimResult{ticketID: ticket.TicketID, err: err}
		}(stationID)
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("claim error: %v", result.err)
		}
		ids = append(ids, result.ticketID)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected 2 distinct tickets, got %v", ids)
	}

	_, err := st.ClaimNext(ctx, store.ClaimInput{TenantID: tenantID, BranchID: branchID, StationID: stationA, AgentID: "agent-" + stationA})
	if !errors.Is(err, store.ErrStationBusy) {
		t.Fatalf("expected station busy, got %v", err)
	}
}

func TestClaimNextHonorsPriority(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID, stationID := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, stationID, uuid.NewString())

	base := time.Now().UTC().Add(-time.Minute)
	first, _, err := st.CreateTicket(ctx, store.CreateTicketInput{TenantID: tenantID, BranchID: branchID, ServiceID: serviceID, Source: models.SourceKiosk, CreatedAt: base})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	urgent, _, err := st.CreateTicket(ctx, store.CreateTicketInput{TenantID: tenantID, BranchID: branchID, ServiceID: serviceID, Source: models.SourceKiosk, Priority: 2, CreatedAt: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("create urgent: %v", err)
	}
	if first.TicketNumber != "SV-001" || urgent.TicketNumber != "SV-002" {
		t.Fatalf("unexpected numbers %s %s", first.TicketNumber, urgent.TicketNumber)
	}

	ahead, err := st.CountWaitingAhead(ctx, first)
	if err != nil || ahead != 1 {
		t.Fatalf("expected 1 ahead of first, got %d (%v)", ahead, err)
	}

	claimed, err := st.ClaimNext(ctx, store.ClaimInput{TenantID: tenantID, BranchID: branchID, StationID: stationID, AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.TicketID != urgent.TicketID || claimed.Status != models.StatusCalled || claimed.WaitSeconds == nil {
		t.Fatalf("expected urgent ticket called, got %+v", claimed)
	}
}

func TestCreateTicketIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, uuid.NewString(), uuid.NewString())

	requestID := uuid.NewString()
	first := createTicket(t, ctx, st, tenantID, branchID, serviceID, requestID)
	second, created, err := st.CreateTicket(ctx, store.CreateTicketInput{RequestID: requestID, TenantID: tenantID, BranchID: branchID, ServiceID: serviceID})
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if created || first.TicketID != second.TicketID {
		t.Fatalf("expected the same ticket for a repeated request")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = 'ticket.created'`).Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ticket.created event, got %d", count)
	}
}

func TestLifecycleKeepsHashChain(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID, stationID := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, stationID, uuid.NewString())

	ticket := createTicket(t, ctx, st, tenantID, branchID, serviceID, "")
	if _, err := st.ClaimNext(ctx, store.ClaimInput{TenantID: tenantID, BranchID: branchID, StationID: stationID, AgentID: "agent-1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := st.Transition(ctx, store.TransitionInput{TenantID: tenantID, TicketID: ticket.TicketID, AgentID: "agent-2", Action: store.ActionStart})
	if !errors.Is(err, store.ErrAgentMismatch) {
		t.Fatalf("expected agent mismatch, got %v", err)
	}
	_, err = st.Transition(ctx, store.TransitionInput{TenantID: tenantID, TicketID: ticket.TicketID, AgentID: "agent-1", Action: store.ActionComplete})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	for _, action := range []string{store.ActionStart, store.ActionHold, store.ActionResume, store.ActionComplete} {
		if _, err := st.Transition(ctx, store.TransitionInput{TenantID: tenantID, TicketID: ticket.TicketID, AgentID: "agent-1", Action: action, Notes: action}); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	done, err := st.SubmitFeedback(ctx, store.FeedbackInput{TenantID: tenantID, TicketID: ticket.TicketID, Rating: 5})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if done.Status != models.StatusCompleted || done.Feedback == nil || done.ServiceSeconds == nil {
		t.Fatalf("unexpected final ticket %+v", done)
	}

	events, err := st.ListTicketEvents(ctx, tenantID, ticket.TicketID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(events))
	}
	if broken := store.VerifyChain(events); broken != 0 {
		t.Fatalf("chain broken at %d", broken)
	}
	rebuilt, err := store.RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rebuilt.Status != models.StatusCompleted {
		t.Fatalf("unexpected rebuilt status %s", rebuilt.Status)
	}

	if _, err := st.ListTicketEvents(ctx, uuid.NewString(), ticket.TicketID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found for other tenant, got %v", err)
	}
}

func TestTransferCreatesLinkedTicket(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID, stationID := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, stationID, uuid.NewString())
	targetID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (tenant_id, service_id, branch_id, name, code, active) VALUES ($1, $2, $3, 'Teller', 'TL', true)
	`, tenantID, targetID, branchID); err != nil {
		t.Fatalf("insert target service: %v", err)
	}

	ticket := createTicket(t, ctx, st, tenantID, branchID, serviceID, "")
	if _, err := st.ClaimNext(ctx, store.ClaimInput{TenantID: tenantID, BranchID: branchID, StationID: stationID, AgentID: "agent-1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := st.Transition(ctx, store.TransitionInput{TenantID: tenantID, TicketID: ticket.TicketID, AgentID: "agent-1", Action: store.ActionStart}); err != nil {
		t.Fatalf("start: %v", err)
	}

	closed, created, err := st.TransferTicket(ctx, store.TransferInput{TenantID: tenantID, TicketID: ticket.TicketID, AgentID: "agent-1", ToServiceID: targetID, Reason: "cash"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if closed.Status != models.StatusTransferred || created.TransferredFrom != ticket.TicketID || created.TicketNumber != "TL-001" {
		t.Fatalf("unexpected transfer %+v %+v", closed, created)
	}
	if created.Notes != store.TransferNote(ticket.TicketNumber, "cash") {
		t.Fatalf("unexpected note %q", created.Notes)
	}
	active, found, err := st.GetActiveTicket(ctx, tenantID, stationID)
	if err != nil || found {
		t.Fatalf("station should be free, got %+v %v", active, err)
	}
}

func TestAutoNoShowAndOutboxOrder(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID, stationID := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, stationID, uuid.NewString())

	ticket := createTicket(t, ctx, st, tenantID, branchID, serviceID, "")
	calledAt := time.Now().UTC().Add(-10 * time.Minute)
	if _, err := st.ClaimNext(ctx, store.ClaimInput{TenantID: tenantID, BranchID: branchID, StationID: stationID, AgentID: "agent-1", CalledAt: calledAt}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	expired, err := st.AutoNoShow(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("auto no-show: %v", err)
	}
	if len(expired) != 1 || expired[0].TicketID != ticket.TicketID || expired[0].Status != models.StatusNoShow {
		t.Fatalf("unexpected expired tickets %+v", expired)
	}

	events, err := st.ListOutboxEvents(ctx, store.OutboxOffset{}, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	var types []string
	for i, event := range events {
		if i > 0 && !(store.OutboxOffset{}).Advance(events[i-1]).Before(event) {
			t.Fatalf("outbox out of order at %d", i)
		}
		types = append(types, event.Type)
	}
	if strings.Join(types, ",") != "ticket.created,ticket.called,ticket.no_show" {
		t.Fatalf("unexpected outbox types %v", types)
	}
	payload, err := store.DecodeEventPayload(events[2].Payload)
	if err != nil || payload.Reason != store.ReasonAutoNoShow {
		t.Fatalf("unexpected no-show payload %+v (%v)", payload, err)
	}

	offset := store.OutboxOffset{}.Advance(events[1])
	if err := st.UpdateOffset(ctx, store.ConsumerNotification, offset); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	got, err := st.GetOffset(ctx, store.ConsumerNotification)
	if err != nil || got != offset {
		t.Fatalf("unexpected offset %+v (%v)", got, err)
	}
	rest, err := st.ListOutboxEvents(ctx, got, 10)
	if err != nil || len(rest) != 1 || rest[0].Type != "ticket.no_show" {
		t.Fatalf("unexpected events after offset %+v (%v)", rest, err)
	}
	latest, err := st.LatestOutboxOffset(ctx)
	if err != nil || latest.LastEventID != events[2].EventID {
		t.Fatalf("unexpected latest offset %+v (%v)", latest, err)
	}
}

func TestOutboxWritersDoNotBlockAndStayOrdered(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	tenantID, branchID, serviceID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	seedBaseData(t, ctx, pool, tenantID, branchID, serviceID, uuid.NewString(), uuid.NewString())
	otherTenant := uuid.NewString()

	open, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = open.Rollback(ctx) }()
	if err := insertOutboxEvent(ctx, open, otherTenant, store.EventCreated, []byte(`{}`), time.Now().UTC()); err != nil {
		t.Fatalf("insert in open tx: %v", err)
	}

	createCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ticket := createTicket(t, createCtx, st, tenantID, branchID, serviceID, "")

	events, err := st.ListOutboxEvents(ctx, store.OutboxOffset{}, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events behind an open transaction must stay hidden, got %+v", events)
	}

	if err := open.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(events) < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		if events, err = st.ListOutboxEvents(ctx, store.OutboxOffset{}, 10); err != nil {
			t.Fatalf("list outbox: %v", err)
		}
	}
	if len(events) != 2 || events[0].TenantID != otherTenant || events[1].TenantID != tenantID {
		t.Fatalf("expected the older transaction first, got %+v", events)
	}
	payload, err := store.DecodeEventPayload(events[1].Payload)
	if err != nil || payload.TicketID != ticket.TicketID {
		t.Fatalf("unexpected payload %+v (%v)", payload, err)
	}
}

func TestNotificationAttempts(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	record := models.NotificationRecord{TenantID: "t1", TicketID: uuid.NewString(), EventType: "ticket.called", Channel: models.ChannelSMS, Recipient: "+628111"}
	first, err := st.InsertNotification(ctx, record)
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second, err := st.InsertNotification(ctx, record)
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if first.Attempt != 1 || second.Attempt != 2 || first.Status != models.NotificationPending {
		t.Fatalf("unexpected attempts %d %d", first.Attempt, second.Attempt)
	}

	if err := st.MarkNotificationSent(ctx, first.NotificationID, "sms-1", time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := st.MarkNotificationFailed(ctx, second.NotificationID, "timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := st.MarkNotificationFailed(ctx, uuid.NewString(), "x"); !errors.Is(err, store.ErrNotificationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	records, err := st.ListNotifications(ctx, "t1", record.TicketID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].Status != models.NotificationSent || records[1].Error != "timeout" {
		t.Fatalf("unexpected records %+v", records)
	}
}

type claimResult struct {
	ticketID string
	err      error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedBaseData(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, branchID, serviceID, stationA, stationB string) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (tenant_id, service_id, branch_id, name, code, active) VALUES ($1, $2, $3, 'Service', 'SV', true)
	`, tenantID, serviceID, branchID); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	for i, stationID := range []string{stationA, stationB} {
		if _, err := pool.Exec(ctx, `
			INSERT INTO stations (tenant_id, station_id, branch_id, number, active) VALUES ($1, $2, $3, $4, true)
		`, tenantID, stationID, branchID, string(rune('1'+i))); err != nil {
			t.Fatalf("insert station %d: %v", i, err)
		}
	}
}

func createTicket(t *testing.T, ctx context.Context, st *Store, tenantID, branchID, serviceID, requestID string) models.Ticket {
	t.Helper()
	ticket, _, err := st.CreateTicket(ctx, store.CreateTicketInput{
		RequestID: requestID,
		TenantID:  tenantID,
		BranchID:  branchID,
		ServiceID: serviceID,
		Source:    models.SourceKiosk,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}
