package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
	"qms/queue-service/internal/priority"
	"qms/queue-service/internal/store"
	"qms/queue-service/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	store.TicketStore
	store.ConfigStore
}

type Options struct {
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine applies ticket lifecycle operations. Every mutation is a single
// guarded write in the store; side effects are read from the outbox by other
// components.
type Engine struct {
	store   Store
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewEngine(st Store, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:   st,
		metrics: opts.Metrics,
		tracer:  telemetry.Tracer("queue"),
		now:     now,
	}
}

type CreateRequest struct {
	RequestID string
	TenantID  string
	BranchID  string
	ServiceID string
	Customer  models.Customer
	Source    string
	Notes     string
}

type CallNextRequest struct {
	TenantID  string
	StationID string
	AgentID   string
}

type ClaimResult struct {
	Ticket models.Ticket
	Empty  bool
}

type ActionRequest struct {
	TenantID string
	TicketID string
	AgentID  string
	Notes    string
}

type TransferRequest struct {
	TenantID    string
	TicketID    string
	AgentID     string
	ToServiceID string
	Reason      string
}

type TransferResult struct {
	Closed models.Ticket `json:"closed_ticket"`
	New    models.Ticket `json:"new_ticket"`
}

type EscalateRequest struct {
	TenantID string
	TicketID string
	Level    int
}

type FeedbackRequest struct {
	TenantID  string
	TicketID  string
	Rating    int
	Comment   string
	Sentiment string
}

func (e *Engine) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "queue."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.Operation(op, outcome(err))
	return err
}

func ticketAttrs(tenantID, ticketID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant.id", tenantID),
		attribute.String("ticket.id", ticketID),
	}
}

func (e *Engine) CreateTicket(ctx context.Context, req CreateRequest) (models.Ticket, bool, error) {
	var ticket models.Ticket
	var created bool
	attrs := []attribute.KeyValue{
		attribute.String("tenant.id", req.TenantID),
		attribute.String("branch.id", req.BranchID),
		attribute.String("service.id", req.ServiceID),
	}
	err := e.observe(ctx, "create", attrs, func(ctx context.Context) error {
		req.TenantID = strings.TrimSpace(req.TenantID)
		req.BranchID = strings.TrimSpace(req.BranchID)
		req.ServiceID = strings.TrimSpace(req.ServiceID)
		if err := firstError(
			required("tenant_id", req.TenantID),
			required("branch_id", req.BranchID),
			required("service_id", req.ServiceID),
			validSource(req.Source),
		); err != nil {
			return err
		}
		customer, err := normalizeCustomer(req.Customer)
		if err != nil {
			return err
		}

		rules, err := e.store.ListPriorityRules(ctx, req.TenantID)
		if err != nil {
			return err
		}
		createdAt := e.now()
		result := priority.Evaluate(priority.Input{Customer: customer, ServiceID: req.ServiceID, At: createdAt}, rules)

		ticket, created, err = e.store.CreateTicket(ctx, store.CreateTicketInput{
			RequestID:      strings.TrimSpace(req.RequestID),
			TenantID:       req.TenantID,
			BranchID:       req.BranchID,
			ServiceID:      req.ServiceID,
			Customer:       customer,
			Source:         req.Source,
			Priority:       result.Priority,
			PriorityRuleID: result.RuleID,
			Notes:          strings.TrimSpace(req.Notes),
			CreatedAt:      createdAt,
		})
		return translate("create", req.ServiceID, err)
	})
	return ticket, created, err
}

// CallNext claims the best waiting ticket the station may serve. An empty
// scope is reported through ClaimResult.Empty, not as an error.
func (e *Engine) CallNext(ctx context.Context, req CallNextRequest) (ClaimResult, error) {
	var result ClaimResult
	attrs := []attribute.KeyValue{
		attribute.String("tenant.id", req.TenantID),
		attribute.String("station.id", req.StationID),
	}
	err := e.observe(ctx, "call_next", attrs, func(ctx context.Context) error {
		if err := firstError(
			required("tenant_id", req.TenantID),
			required("station_id", req.StationID),
			required("agent_id", req.AgentID),
		); err != nil {
			return err
		}
		station, err := e.store.GetStation(ctx, req.TenantID, req.StationID)
		if err != nil {
			return translate("call_next", req.StationID, err)
		}
		if !station.Active {
			e.metrics.Claim("rejected")
			return &ConflictError{Op: "call_next", Reason: "station " + station.StationID + " is inactive", Err: store.ErrStationInactive}
		}

		ticket, err := e.store.ClaimNext(ctx, store.ClaimInput{
			TenantID:   req.TenantID,
			BranchID:   station.BranchID,
			StationID:  station.StationID,
			AgentID:    req.AgentID,
			ServiceIDs: station.ServiceIDs,
			CalledAt:   e.now(),
		})
		if errors.Is(err, store.ErrNoTicket) {
			e.metrics.Claim("empty")
			result = ClaimResult{Empty: true}
			return nil
		}
		if err != nil {
			e.metrics.Claim("rejected")
			if errors.Is(err, store.ErrStationBusy) {
				return &ConflictError{Op: "call_next", Reason: "station " + station.StationID + " already has an active ticket", Err: err}
			}
			return translate("call_next", req.StationID, err)
		}
		e.metrics.Claim("claimed")
		result = ClaimResult{Ticket: ticket}
		return nil
	})
	return result, err
}

func (e *Engine) StartServing(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	return e.transition(ctx, store.ActionStart, req, true)
}

func (e *Engine) Hold(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	return e.transition(ctx, store.ActionHold, req, true)
}

func (e *Engine) Resume(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	return e.transition(ctx, store.ActionResume, req, true)
}

func (e *Engine) Complete(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	return e.transition(ctx, store.ActionComplete, req, true)
}

func (e *Engine) NoShow(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	return e.transition(ctx, store.ActionNoShow, req, true)
}

func (e *Engine) Cancel(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	return e.transition(ctx, store.ActionCancel, req, false)
}

func (e *Engine) transition(ctx context.Context, action string, req ActionRequest, needsAgent bool) (models.Ticket, error) {
	var ticket models.Ticket
	err := e.observe(ctx, action, ticketAttrs(req.TenantID, req.TicketID), func(ctx context.Context) error {
		checks := []error{required("tenant_id", req.TenantID), required("ticket_id", req.TicketID)}
		if needsAgent {
			checks = append(checks, required("agent_id", req.AgentID))
		}
		if err := firstError(checks...); err != nil {
			return err
		}
		var err error
		ticket, err = e.store.Transition(ctx, store.TransitionInput{
			TenantID:   req.TenantID,
			TicketID:   req.TicketID,
			AgentID:    strings.TrimSpace(req.AgentID),
			Action:     action,
			Notes:      strings.TrimSpace(req.Notes),
			OccurredAt: e.now(),
		})
		return e.conflict(ctx, action, req.TenantID, req.TicketID, err)
	})
	return ticket, err
}

// conflict translates a store error and, for guard failures, records the
// status the ticket actually has.
func (e *Engine) conflict(ctx context.Context, op, tenantID, ticketID string, err error) error {
	translated := translate(op, ticketID, err)
	var conflict *ConflictError
	if errors.As(translated, &conflict) && conflict.Status == "" {
		if current, getErr := e.store.GetTicket(ctx, tenantID, ticketID); getErr == nil {
			conflict.Status = current.Status
		}
	}
	return translated
}

func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var result TransferResult
	err := e.observe(ctx, "transfer", ticketAttrs(req.TenantID, req.TicketID), func(ctx context.Context) error {
		if err := firstError(
			required("tenant_id", req.TenantID),
			required("ticket_id", req.TicketID),
			required("to_service_id", req.ToServiceID),
		); err != nil {
			return err
		}
		current, err := e.store.GetTicket(ctx, req.TenantID, req.TicketID)
		if err != nil {
			return translate("transfer", req.TicketID, err)
		}
		target, err := e.store.GetService(ctx, req.TenantID, req.ToServiceID)
		if err != nil {
			return translate("transfer", req.ToServiceID, err)
		}
		if !target.Active {
			return &ConflictError{Op: "transfer", TicketID: req.TicketID, Status: current.Status, Reason: "target service " + target.ServiceID + " is inactive", Err: store.ErrServiceInactive}
		}

		rules, err := e.store.ListPriorityRules(ctx, req.TenantID)
		if err != nil {
			return err
		}
		at := e.now()
		evaluated := priority.Evaluate(priority.Input{Customer: current.Customer, ServiceID: target.ServiceID, At: at}, rules)
		level, ruleID := current.Priority, current.PriorityRuleID
		if evaluated.Priority >= level {
			level, ruleID = evaluated.Priority, evaluated.RuleID
		}

		closed, created, err := e.store.TransferTicket(ctx, store.TransferInput{
			TenantID:     req.TenantID,
			TicketID:     req.TicketID,
			AgentID:      strings.TrimSpace(req.AgentID),
			ToServiceID:  target.ServiceID,
			Reason:       strings.TrimSpace(req.Reason),
			Priority:     level,
			PriorityRule: ruleID,
			OccurredAt:   at,
		})
		if err != nil {
			return e.conflict(ctx, "transfer", req.TenantID, req.TicketID, err)
		}
		result = TransferResult{Closed: closed, New: created}
		return nil
	})
	return result, err
}

// Recall re-announces a called ticket. The status does not change.
func (e *Engine) Recall(ctx context.Context, req ActionRequest) (models.Ticket, error) {
	var ticket models.Ticket
	err := e.observe(ctx, "recall", ticketAttrs(req.TenantID, req.TicketID), func(ctx context.Context) error {
		if err := firstError(required("tenant_id", req.TenantID), required("ticket_id", req.TicketID)); err != nil {
			return err
		}
		var err error
		ticket, err = e.store.RecallTicket(ctx, store.TransitionInput{
			TenantID:   req.TenantID,
			TicketID:   req.TicketID,
			AgentID:    strings.TrimSpace(req.AgentID),
			Action:     store.ActionRecall,
			OccurredAt: e.now(),
		})
		return e.conflict(ctx, "recall", req.TenantID, req.TicketID, err)
	})
	return ticket, err
}

func (e *Engine) EscalatePriority(ctx context.Context, req EscalateRequest) (models.Ticket, error) {
	var ticket models.Ticket
	err := e.observe(ctx, "escalate", ticketAttrs(req.TenantID, req.TicketID), func(ctx context.Context) error {
		if err := firstError(
			required("tenant_id", req.TenantID),
			required("ticket_id", req.TicketID),
			validLevel(req.Level),
		); err != nil {
			return err
		}
		var err error
		ticket, err = e.store.EscalatePriority(ctx, store.EscalateInput{
			TenantID:   req.TenantID,
			TicketID:   req.TicketID,
			Priority:   req.Level,
			OccurredAt: e.now(),
		})
		return e.conflict(ctx, "escalate", req.TenantID, req.TicketID, err)
	})
	return ticket, err
}

func (e *Engine) SubmitFeedback(ctx context.Context, req FeedbackRequest) (models.Ticket, error) {
	var ticket models.Ticket
	err := e.observe(ctx, "feedback", ticketAttrs(req.TenantID, req.TicketID), func(ctx context.Context) error {
		if err := firstError(
			required("tenant_id", req.TenantID),
			required("ticket_id", req.TicketID),
			validRating(req.Rating),
		); err != nil {
			return err
		}
		var err error
		ticket, err = e.store.SubmitFeedback(ctx, store.FeedbackInput{
			TenantID:    req.TenantID,
			TicketID:    req.TicketID,
			Rating:      req.Rating,
			Comment:     strings.TrimSpace(req.Comment),
			Sentiment:   strings.TrimSpace(req.Sentiment),
			SubmittedAt: e.now(),
		})
		return e.conflict(ctx, "feedback", req.TenantID, req.TicketID, err)
	})
	return ticket, err
}

func (e *Engine) GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	if err := firstError(required("tenant_id", tenantID), required("ticket_id", ticketID)); err != nil {
		return models.Ticket{}, err
	}
	ticket, err := e.store.GetTicket(ctx, tenantID, ticketID)
	return ticket, translate("get", ticketID, err)
}

// ActiveTicket returns the ticket a station is currently calling, serving or
// holding.
func (e *Engine) ActiveTicket(ctx context.Context, tenantID, stationID string) (models.Ticket, bool, error) {
	if err := firstError(required("tenant_id", tenantID), required("station_id", stationID)); err != nil {
		return models.Ticket{}, false, err
	}
	return e.store.GetActiveTicket(ctx, tenantID, stationID)
}

// Queue lists waiting tickets in claim order. An empty serviceID lists the
// whole branch.
func (e *Engine) Queue(ctx context.Context, tenantID, branchID, serviceID string) ([]models.Ticket, error) {
	if err := firstError(required("tenant_id", tenantID), required("branch_id", branchID)); err != nil {
		return nil, err
	}
	var services []string
	if serviceID != "" {
		services = []string{serviceID}
	}
	return e.store.ListWaiting(ctx, tenantID, branchID, services)
}

type HistoryResult struct {
	Events        []store.TicketEvent `json:"events"`
	Intact        bool                `json:"intact"`
	BrokenAtSeq   int                 `json:"broken_at_seq,omitempty"`
	Reconstructed models.Ticket       `json:"reconstructed"`
}

func (e *Engine) History(ctx context.Context, tenantID, ticketID string) (HistoryResult, error) {
	if err := firstError(required("tenant_id", tenantID), required("ticket_id", ticketID)); err != nil {
		return HistoryResult{}, err
	}
	events, err := e.store.ListTicketEvents(ctx, tenantID, ticketID)
	if err != nil {
		return HistoryResult{}, translate("history", ticketID, err)
	}
	ticket, err := store.RehydrateTicket(events)
	if err != nil {
		return HistoryResult{}, err
	}
	broken := store.VerifyChain(events)
	return HistoryResult{Events: events, Intact: broken == 0, BrokenAtSeq: broken, Reconstructed: ticket}, nil
}

// ExpireCalls marks calls older than grace as no-shows.
func (e *Engine) ExpireCalls(ctx context.Context, grace time.Duration, batchSize int) (int, error) {
	var expired []models.Ticket
	err := e.observe(ctx, "auto_no_show", nil, func(ctx context.Context) error {
		var err error
		expired, err = e.store.AutoNoShow(ctx, e.now().Add(-grace), batchSize)
		return err
	})
	return len(expired), err
}
