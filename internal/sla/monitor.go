package sla

import (
	"context"
	"time"

	"qms/queue-service/internal/models"
)

type ConfigStore interface {
	ListSLAConfigs(ctx context.Context, tenantID string) ([]models.SLAConfig, error)
}

// Monitor derives SLA phases on demand. Nothing it computes is stored.
type Monitor struct {
	store ConfigStore
}

func NewMonitor(st ConfigStore) *Monitor {
	return &Monitor{store: st}
}

func (m *Monitor) Phase(ctx context.Context, ticket models.Ticket, now time.Time) (models.SLAStatus, error) {
	configs, err := m.store.ListSLAConfigs(ctx, ticket.TenantID)
	if err != nil {
		return models.SLAStatus{}, err
	}
	return Evaluate(ticket, configs, now), nil
}

// Evaluate classifies a ticket against the tenant's configs. Only serving
// tickets are tracked; everything else reports ok.
func Evaluate(ticket models.Ticket, configs []models.SLAConfig, now time.Time) models.SLAStatus {
	status := models.SLAStatus{TicketID: ticket.TicketID, Phase: models.PhaseOK}
	if ticket.Status != models.StatusServing || ticket.StartedAt == nil {
		return status
	}
	status.Tracked = true

	elapsed := now.Sub(*ticket.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	status.ElapsedMinutes = elapsed.Minutes()

	cfg, ok := Resolve(configs, ticket.ServiceID)
	if !ok {
		return status
	}
	status.Phase, status.RemainingSeconds = Classify(cfg, elapsed)
	return status
}

// Resolve prefers a service-specific config over the organization-wide one.
func Resolve(configs []models.SLAConfig, serviceID string) (models.SLAConfig, bool) {
	var fallback *models.SLAConfig
	for i := range configs {
		if configs[i].ServiceID == serviceID && serviceID != "" {
			return configs[i], true
		}
		if configs[i].ServiceID == "" && fallback == nil {
			fallback = &configs[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return models.SLAConfig{}, false
}

// Classify is a pure function of the config and elapsed service time.
// Remaining seconds are nil once the ticket is breached.
func Classify(cfg models.SLAConfig, elapsed time.Duration) (string, *int64) {
	maxWait := time.Duration(cfg.MaxWaitMinutes) * time.Minute
	if maxWait <= 0 {
		return models.PhaseOK, nil
	}
	critical := time.Duration(cfg.CriticalMinutes) * time.Minute
	if critical <= 0 || critical > maxWait {
		critical = maxWait
	}
	warning := time.Duration(cfg.WarningMinutes) * time.Minute
	if warning <= 0 || warning > critical {
		warning = critical
	}

	if elapsed >= maxWait {
		return models.PhaseBreached, nil
	}
	remaining := int64((maxWait - elapsed) / time.Second)
	switch {
	case elapsed >= critical:
		return models.PhaseCritical, &remaining
	case elapsed >= warning:
		return models.PhaseWarning, &remaining
	default:
		return models.PhaseOK, &remaining
	}
}
