package feed

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"qms/queue-service/internal/store"
)

type RelayStore interface {
	ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error)
	LatestOutboxOffset(ctx context.Context) (store.OutboxOffset, error)
}

// Relay moves outbox events into this process's hub. Each replica serves
// its own subscribers, so the position is kept in memory and starts at the
// newest event; clients re-read the store on (re)connect.
type Relay struct {
	store     RelayStore
	hub       *Hub
	batchSize int
	running   int32

	offset store.OutboxOffset
	primed bool
}

func NewRelay(st RelayStore, hub *Hub, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{store: st, hub: hub, batchSize: batchSize}
}

// Run publishes one batch; the first call only records the starting
// position. A call made while another is in flight returns immediately.
func (r *Relay) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&r.running, 0)

	if !r.primed {
		latest, err := r.store.LatestOutboxOffset(ctx)
		if err != nil {
			return err
		}
		r.offset, r.primed = latest, true
		return nil
	}
	events, err := r.store.ListOutboxEvents(ctx, r.offset, r.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		change, err := ChangeFromEvent(event)
		if err != nil {
			log.Printf("realtime decode error event=%s: %v", event.EventID, err)
		} else {
			r.hub.Publish(change)
		}
		r.offset = r.offset.Advance(event)
	}
	return nil
}

func ChangeFromEvent(event store.OutboxEvent) (Change, error) {
	payload, err := store.DecodeEventPayload(event.Payload)
	if err != nil {
		return Change{}, err
	}
	changedAt := payload.ChangedAt
	if changedAt.IsZero() {
		changedAt = event.CreatedAt
	}
	tenantID := event.TenantID
	if tenantID == "" {
		tenantID = payload.TenantID
	}
	return Change{
		Seq:          event.Seq,
		Type:         event.Type,
		TenantID:     tenantID,
		BranchID:     payload.BranchID,
		ServiceID:    payload.ServiceID,
		TicketID:     payload.TicketID,
		TicketNumber: payload.TicketNumber,
		Status:       payload.Status,
		ChangedAt:    changedAt,
	}, nil
}

func Start(ctx context.Context, interval time.Duration, r *Relay) {
	if interval <= 0 {
		interval = time.Second
	}
	if err := r.Run(ctx); err != nil {
		log.Printf("realtime relay error: %v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.Run(runCtx); err != nil {
				log.Printf("realtime relay error: %v", err)
			}
			cancel()
		}
	}
}
