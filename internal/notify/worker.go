package notify

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
)

type WorkerStore interface {
	store.OutboxStore
	ListWaiting(ctx context.Context, tenantID, branchID string, serviceIDs []string) ([]models.Ticket, error)
}

type Estimator interface {
	ForTicket(ctx context.Context, ticket models.Ticket) models.Estimate
}

// HistoryInvalidator is implemented by estimators that cache service
// history; a completed ticket changes that history.
type HistoryInvalidator interface {
	Invalidate(tenantID, branchID, serviceID string)
}

type WorkerConfig struct {
	BatchSize        int
	ReminderPosition int
	Now              func() time.Time
}

// Worker feeds outbox events to the dispatcher from its own offset, so the
// transition that produced an event never waits on delivery.
type Worker struct {
	store            WorkerStore
	dispatcher       *Dispatcher
	estimator        Estimator
	batchSize        int
	reminderPosition int
	now              func() time.Time
	running          int32
}

func NewWorker(st WorkerStore, dispatcher *Dispatcher, estimator Estimator, cfg WorkerConfig) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{
		store:            st,
		dispatcher:       dispatcher,
		estimator:        estimator,
		batchSize:        batch,
		reminderPosition: cfg.ReminderPosition,
		now:              now,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&w.running, 0)

	offset, err := w.store.GetOffset(ctx, store.ConsumerNotification)
	if err != nil {
		return err
	}

	events, err := w.store.ListOutboxEvents(ctx, offset, w.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("notif process error event=%s: %v", event.EventID, err)
		}
		offset = offset.Advance(event)
	}
	return w.store.UpdateOffset(ctx, store.ConsumerNotification, offset)
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	payload, err := store.DecodeEventPayload(event.Payload)
	if err != nil {
		return err
	}

	if Notifiable(event.Type) {
		w.dispatcher.Dispatch(ctx, Event{
			TenantID: event.TenantID,
			TicketID: payload.TicketID,
			Type:     event.Type,
			Payload:  payload,
		})
	}

	if event.Type == "ticket.completed" {
		if inv, ok := w.estimator.(HistoryInvalidator); ok {
			inv.Invalidate(payload.TenantID, payload.BranchID, payload.ServiceID)
		}
	}

	if event.Type == "ticket.called" && w.reminderPosition > 0 {
		return w.remind(ctx, payload)
	}
	return nil
}

// remind notifies the ticket that has just moved to the reminder position
// in the queue of the ticket that was called.
func (w *Worker) remind(ctx context.Context, called store.EventPayload) error {
	waiting, err := w.store.ListWaiting(ctx, called.TenantID, called.BranchID, []string{called.ServiceID})
	if err != nil {
		return err
	}
	if len(waiting) < w.reminderPosition {
		return nil
	}
	ticket := waiting[w.reminderPosition-1]

	minutes := 0
	if w.estimator != nil {
		minutes = w.estimator.ForTicket(ctx, ticket).EstimatedMinutes
	}
	payload := store.NewEventPayload(ticket, w.now())
	w.dispatcher.Dispatch(ctx, Event{
		TenantID: ticket.TenantID,
		TicketID: ticket.TicketID,
		Type:     EventReminder,
		Payload:  payload,
		Position: w.reminderPosition,
		Minutes:  minutes,
	})
	return nil
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notif worker error: %v", err)
			}
		}
	}
}
