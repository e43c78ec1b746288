package sla

import (
	"context"
	"log"
	"time"

	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
)

type ScanStore interface {
	ConfigStore
	ListServing(ctx context.Context, tenantID string) ([]models.Ticket, error)
}

type Scanner struct {
	store   ScanStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewScanner(st ScanStore, m *metrics.Metrics, now func() time.Time) *Scanner {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scanner{store: st, metrics: m, now: now}
}

type Summary map[string]int

// Tick recomputes every serving ticket's phase from its stored start time.
func (s *Scanner) Tick(ctx context.Context) (Summary, error) {
	tickets, err := s.store.ListServing(ctx, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := Summary{
		models.PhaseOK:       0,
		models.PhaseWarning:  0,
		models.PhaseCritical: 0,
		models.PhaseBreached: 0,
	}
	configs := make(map[string][]models.SLAConfig)
	for _, ticket := range tickets {
		tenantConfigs, ok := configs[ticket.TenantID]
		if !ok {
			tenantConfigs, err = s.store.ListSLAConfigs(ctx, ticket.TenantID)
			if err != nil {
				log.Printf("sla config error tenant=%s: %v", ticket.TenantID, err)
				continue
			}
			configs[ticket.TenantID] = tenantConfigs
		}
		status := Evaluate(ticket, tenantConfigs, now)
		summary[status.Phase]++
		if status.Phase == models.PhaseCritical || status.Phase == models.PhaseBreached {
			log.Printf("sla %s tenant=%s ticket=%s number=%s elapsed_minutes=%.1f", status.Phase, ticket.TenantID, ticket.TicketID, ticket.TicketNumber, status.ElapsedMinutes)
		}
	}
	for phase, count := range summary {
		s.metrics.SetSLAPhase(phase, count)
	}
	return summary, nil
}

func Run(ctx context.Context, interval time.Duration, scanner *Scanner) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := scanner.Tick(ctx); err != nil {
				log.Printf("sla scan error: %v", err)
			}
		}
	}
}
