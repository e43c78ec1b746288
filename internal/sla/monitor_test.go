package sla

import (
	"context"
	"testing"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
	"qms/queue-service/internal/store/memory"
)

var cfg = models.SLAConfig{TenantID: "t1", MaxWaitMinutes: 15, WarningMinutes: 5, CriticalMinutes: 10}

func TestClassifyPhases(t *testing.T) {
	cases := []struct {
		elapsed   time.Duration
		phase     string
		remaining int64
	}{
		{0, models.PhaseOK, 900},
		{4*time.Minute + 59*time.Second, models.PhaseOK, 601},
		{5 * time.Minute, models.PhaseWarning, 600},
		{10 * time.Minute, models.PhaseCritical, 300},
		{11 * time.Minute, models.PhaseCritical, 240},
		{15 * time.Minute, models.PhaseBreached, -1},
		{40 * time.Minute, models.PhaseBreached, -1},
	}
	for _, tt := range cases {
		phase, remaining := Classify(cfg, tt.elapsed)
		if phase != tt.phase {
			t.Fatalf("elapsed %v: phase %s want %s", tt.elapsed, phase, tt.phase)
		}
		if tt.remaining < 0 {
			if remaining != nil {
				t.Fatalf("elapsed %v: breached must not report remaining", tt.elapsed)
			}
			continue
		}
		if remaining == nil || *remaining != tt.remaining {
			t.Fatalf("elapsed %v: remaining %v want %d", tt.elapsed, remaining, tt.remaining)
		}
	}
}

func TestRemainingNeverIncreases(t *testing.T) {
	last := int64(1 << 62)
	for s := 0; s < 15*60; s += 7 {
		_, remaining := Classify(cfg, time.Duration(s)*time.Second)
		if remaining == nil {
			break
		}
		if *remaining > last {
			t.Fatalf("remaining increased at %ds", s)
		}
		last = *remaining
	}
}

func TestResolvePrefersServiceConfig(t *testing.T) {
	configs := []models.SLAConfig{
		cfg,
		{TenantID: "t1", ServiceID: "svc-fast", MaxWaitMinutes: 3, WarningMinutes: 1, CriticalMinutes: 2},
	}
	got, ok := Resolve(configs, "svc-fast")
	if !ok || got.MaxWaitMinutes != 3 {
		t.Fatalf("expected service override, got %+v", got)
	}
	got, ok = Resolve(configs, "svc-other")
	if !ok || got.MaxWaitMinutes != 15 {
		t.Fatalf("expected organization-wide config, got %+v", got)
	}
	if _, ok := Resolve(nil, "svc"); ok {
		t.Fatalf("no configs must resolve to nothing")
	}
}

func TestEvaluateOnlyTracksServing(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := started.Add(11 * time.Minute)
	serving := models.Ticket{TicketID: "a", Status: models.StatusServing, StartedAt: &started}

	status := Evaluate(serving, []models.SLAConfig{cfg}, now)
	if !status.Tracked || status.Phase != models.PhaseCritical || status.RemainingSeconds == nil || *status.RemainingSeconds != 240 {
		t.Fatalf("unexpected status %+v", status)
	}
	if again := Evaluate(serving, []models.SLAConfig{cfg}, now); again.Phase != status.Phase || *again.RemainingSeconds != *status.RemainingSeconds {
		t.Fatalf("evaluation is not deterministic")
	}

	waiting := models.Ticket{TicketID: "b", Status: models.StatusWaiting}
	if status := Evaluate(waiting, []models.SLAConfig{cfg}, now); status.Tracked || status.Phase != models.PhaseOK {
		t.Fatalf("waiting ticket must not be tracked: %+v", status)
	}
	if status := Evaluate(serving, nil, started.Add(time.Hour)); status.Phase != models.PhaseOK {
		t.Fatalf("no config must always be ok, got %s", status.Phase)
	}
}

func TestScannerTick(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	st.PutService(models.Service{ServiceID: "svc", TenantID: "t1", BranchID: "b1", Code: "S", Active: true})
	st.PutStation(models.Station{StationID: "st-1", TenantID: "t1", BranchID: "b1", Active: true})
	st.PutSLAConfig(cfg)

	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	created, _, err := st.CreateTicket(ctx, store.CreateTicketInput{TenantID: "t1", BranchID: "b1", ServiceID: "svc", CreatedAt: started.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ClaimNext(ctx, store.ClaimInput{TenantID: "t1", BranchID: "b1", StationID: "st-1", AgentID: "a", CalledAt: started}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := st.Transition(ctx, store.TransitionInput{TenantID: "t1", TicketID: created.TicketID, AgentID: "a", Action: store.ActionStart, OccurredAt: started}); err != nil {
		t.Fatalf("start: %v", err)
	}

	scanner := NewScanner(st, nil, func() time.Time { return started.Add(16 * time.Minute) })
	summary, err := scanner.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary[models.PhaseBreached] != 1 || summary[models.PhaseOK] != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	monitor := NewMonitor(st)
	ticket, _ := st.GetTicket(ctx, "t1", created.TicketID)
	status, err := monitor.Phase(ctx, ticket, started.Add(6*time.Minute))
	if err != nil || status.Phase != models.PhaseWarning {
		t.Fatalf("expected warning, got %+v err=%v", status, err)
	}
}
