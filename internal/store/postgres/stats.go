package postgres

import (
	"context"
	"errors"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CountWaiting(ctx context.Context, tenantID, branchID, serviceID string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE tenant_id = $1 AND branch_id = $2 AND service_id = $3 AND status = 'waiting'
	`, tenantID, branchID, serviceID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountWaitingAhead counts tickets of the same service that are served
// before ticket: higher priority, then earlier creation, then lower id.
func (s *Store) CountWaitingAhead(ctx context.Context, ticket models.Ticket) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE tenant_id = $1 AND branch_id = $2 AND service_id = $3 AND status = 'waiting'
			AND ticket_id <> $4
			AND (priority > $5
				OR (priority = $5 AND (created_at < $6
					OR (created_at = $6 AND ticket_id COLLATE "C" < $4))))
	`, ticket.TenantID, ticket.BranchID, ticket.ServiceID, ticket.TicketID, ticket.Priority, ticket.CreatedAt)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) CountActiveStations(ctx context.Context, tenantID, branchID, serviceID string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT station_id)
		FROM tickets
		WHERE tenant_id = $1 AND branch_id = $2 AND service_id = $3
			AND status IN ('called', 'serving') AND station_id IS NOT NULL
	`, tenantID, branchID, serviceID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ServiceHistory(ctx context.Context, tenantID, branchID, serviceID string, since time.Time, limit int) (store.History, error) {
	var history store.History
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(wait_seconds), 0)::float8, COALESCE(AVG(service_seconds), 0)::float8
		FROM (
			SELECT
				COALESCE(GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (called_at - created_at)))), 0) AS wait_seconds,
				COALESCE(GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (completed_at - started_at)))), 0) AS service_seconds
			FROM tickets
			WHERE tenant_id = $1 AND branch_id = $2 AND service_id = $3
				AND status = 'completed' AND completed_at >= $4
			ORDER BY completed_at DESC
			LIMIT NULLIF($5::int, 0)
		) recent
	`, tenantID, branchID, serviceID, since, limit)
	if err := row.Scan(&history.Samples, &history.AvgWaitSeconds, &history.AvgServiceSeconds); err != nil {
		return store.History{}, err
	}
	return history, nil
}

func (s *Store) GetService(ctx context.Context, tenantID, serviceID string) (models.Service, error) {
	var service models.Service
	row := s.pool.QueryRow(ctx, `
		SELECT service_id, tenant_id, branch_id, name, code, category, avg_duration_minutes, active
		FROM services
		WHERE tenant_id = $1 AND service_id = $2
	`, tenantID, serviceID)
	if err := row.Scan(&service.ServiceID, &service.TenantID, &service.BranchID, &service.Name, &service.Code, &service.Category, &service.AvgDurationMinutes, &service.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return service, nil
}

func (s *Store) GetStation(ctx context.Context, tenantID, stationID string) (models.Station, error) {
	var station models.Station
	row := s.pool.QueryRow(ctx, `
		SELECT station_id, tenant_id, branch_id, number, type, active, service_ids
		FROM stations
		WHERE tenant_id = $1 AND station_id = $2
	`, tenantID, stationID)
	if err := row.Scan(&station.StationID, &station.TenantID, &station.BranchID, &station.Number, &station.Type, &station.Active, &station.ServiceIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Station{}, store.ErrStationNotFound
		}
		return models.Station{}, err
	}
	return station, nil
}

func (s *Store) ListPriorityRules(ctx context.Context, tenantID string) ([]models.PriorityRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, tenant_id, name, condition, payload, boost, active, sort_order
		FROM priority_rules
		WHERE tenant_id = $1
		ORDER BY sort_order ASC, rule_id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PriorityRule, error) {
		var rule models.PriorityRule
		var payload []byte
		if err := row.Scan(&rule.RuleID, &rule.TenantID, &rule.Name, &rule.Condition, &payload, &rule.Boost, &rule.Active, &rule.SortOrder); err != nil {
			return models.PriorityRule{}, err
		}
		rule.Payload = payload
		return rule, nil
	})
}

func (s *Store) ListSLAConfigs(ctx context.Context, tenantID string) ([]models.SLAConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, service_id, max_wait_minutes, warning_minutes, critical_minutes
		FROM sla_configs
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SLAConfig, error) {
		var cfg models.SLAConfig
		err := row.Scan(&cfg.TenantID, &cfg.ServiceID, &cfg.MaxWaitMinutes, &cfg.WarningMinutes, &cfg.CriticalMinutes)
		return cfg, err
	})
}
