package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// visibleOutbox limits a read to rows written by transactions older than
// every transaction still in progress. Such rows can no longer be joined by
// a smaller (tx_id, seq), so a consumer offset never skips one.
const visibleOutbox = `tx_id < pg_snapshot_xmin(pg_current_snapshot())::text::bigint`

// emit writes the outbox event and the next chained ticket event for a
// mutation applied in tx.
func emit(ctx context.Context, tx pgx.Tx, ticket models.Ticket, eventType string, at time.Time, extra func(*store.EventPayload)) error {
	payload := store.NewEventPayload(ticket, at)
	if err := tx.QueryRow(ctx, `SELECT name FROM services WHERE tenant_id = $1 AND service_id = $2`, ticket.TenantID, ticket.ServiceID).Scan(&payload.ServiceName); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if ticket.StationID != nil {
		if err := tx.QueryRow(ctx, `SELECT number FROM stations WHERE tenant_id = $1 AND station_id = $2`, ticket.TenantID, *ticket.StationID).Scan(&payload.StationNumber); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}
	if extra != nil {
		extra(&payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := insertOutboxEvent(ctx, tx, ticket.TenantID, eventType, raw, at); err != nil {
		return err
	}
	return insertTicketEvent(ctx, tx, ticket.TicketID, eventType, raw, at)
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, tenantID, eventType string, payload []byte, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (tx_id, event_id, tenant_id, type, payload_json, created_at)
		VALUES (pg_current_xact_id()::text::bigint, $1, $2, $3, $4, $5)
	`, uuid.NewString(), tenantID, eventType, string(payload), at)
	return err
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID, eventType string, payload []byte, at time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return err
	}

	var prev *store.TicketEvent
	var last store.TicketEvent
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	switch err := row.Scan(&last.TicketSeq, &last.Hash); {
	case err == nil:
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event := store.ChainEvent(prev, ticketID, eventType, payload, at)
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.TicketSeq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tx_id, seq, event_id, tenant_id, type, payload_json, created_at
		FROM outbox_events
		WHERE `+visibleOutbox+`
		  AND (tx_id, seq) > ($1, $2)
		ORDER BY tx_id ASC, seq ASC
		LIMIT $3
	`, after.LastTxID, after.LastSeq, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.OutboxEvent, error) {
		var event store.OutboxEvent
		var payload []byte
		if err := row.Scan(&event.TxID, &event.Seq, &event.EventID, &event.TenantID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return store.OutboxEvent{}, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		return event, nil
	})
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	var offset store.OutboxOffset
	row := s.pool.QueryRow(ctx, `SELECT last_tx_id, last_seq, last_event_id FROM outbox_offsets WHERE consumer = $1`, consumer)
	if err := row.Scan(&offset.LastTxID, &offset.LastSeq, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.OutboxOffset{}, nil
		}
		return store.OutboxOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_offsets (consumer, last_tx_id, last_seq, last_event_id, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (consumer)
		DO UPDATE SET last_tx_id = EXCLUDED.last_tx_id, last_seq = EXCLUDED.last_seq, last_event_id = EXCLUDED.last_event_id, updated_at = now()
	`, consumer, offset.LastTxID, offset.LastSeq, offset.LastEventID)
	return err
}

// LatestOutboxOffset is the position of the newest visible event, or the
// zero offset for an empty outbox.
func (s *Store) LatestOutboxOffset(ctx context.Context) (store.OutboxOffset, error) {
	var offset store.OutboxOffset
	row := s.pool.QueryRow(ctx, `
		SELECT tx_id, seq, event_id
		FROM outbox_events
		WHERE `+visibleOutbox+`
		ORDER BY tx_id DESC, seq DESC
		LIMIT 1
	`)
	if err := row.Scan(&offset.LastTxID, &offset.LastSeq, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.OutboxOffset{}, nil
		}
		return store.OutboxOffset{}, err
	}
	return offset, nil
}
