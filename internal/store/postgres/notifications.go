package postgres

import (
	"context"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) InsertNotification(ctx context.Context, record models.NotificationRecord) (models.NotificationRecord, error) {
	if record.NotificationID == "" {
		record.NotificationID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = models.NotificationPending
	}
	record.CreatedAt = s.at(record.CreatedAt)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		attemptKey := record.TicketID + "/" + record.EventType + "/" + record.Channel
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, attemptKey); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO notifications (
				notification_id, tenant_id, ticket_id, event_type, attempt, channel,
				recipient, title, body, status, external_id, error, created_at
			)
			SELECT $1::text, $2::text, $3::text, $4::text, COALESCE(MAX(attempt), 0) + 1, $5::text,
				$6::text, $7::text, $8::text, $9::text, $10::text, $11::text, $12::timestamptz
			FROM notifications
			WHERE ticket_id = $3 AND event_type = $4 AND channel = $5
			RETURNING attempt
		`, record.NotificationID, record.TenantID, record.TicketID, record.EventType, record.Channel,
			record.Recipient, record.Title, record.Body, record.Status, record.ExternalID, record.Error, record.CreatedAt)
		return row.Scan(&record.Attempt)
	})
	if err != nil {
		return models.NotificationRecord{}, err
	}
	return record, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID, externalID string, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, external_id = $3, sent_at = $4
		WHERE notification_id = $1
	`, notificationID, models.NotificationSent, externalID, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, error = $3
		WHERE notification_id = $1
	`, notificationID, models.NotificationFailed, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, tenantID, ticketID string) ([]models.NotificationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT notification_id, tenant_id, ticket_id, event_type, attempt, channel, recipient,
			title, body, status, external_id, error, created_at, sent_at
		FROM notifications
		WHERE tenant_id = $1 AND ($2 = '' OR ticket_id = $2)
		ORDER BY created_at ASC, event_type ASC, channel ASC, attempt ASC
	`, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.NotificationRecord, error) {
		var record models.NotificationRecord
		var sentAt *time.Time
		if err := row.Scan(&record.NotificationID, &record.TenantID, &record.TicketID, &record.EventType, &record.Attempt, &record.Channel, &record.Recipient,
			&record.Title, &record.Body, &record.Status, &record.ExternalID, &record.Error, &record.CreatedAt, &sentAt); err != nil {
			return models.NotificationRecord{}, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		if sentAt != nil {
			utc := sentAt.UTC()
			record.SentAt = &utc
		}
		return record, nil
	})
}

// DeactivatePushTarget records the target as dead and strips it from every
// ticket of the tenant that still carries it.
func (s *Store) DeactivatePushTarget(ctx context.Context, tenantID, target string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO inactive_push_targets (tenant_id, target)
			VALUES ($1, $2)
			ON CONFLICT (tenant_id, target) DO NOTHING
		`, tenantID, target); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE tickets
			SET customer = customer - 'push_target'
			WHERE tenant_id = $1 AND customer->>'push_target' = $2
		`, tenantID, target)
		return err
	})
}
