package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/queue"
	"qms/queue-service/internal/store"
)

// Queue is the lifecycle surface the handler drives; *queue.Engine
// implements it.
type Queue interface {
	CreateTicket(ctx context.Context, req queue.CreateRequest) (models.Ticket, bool, error)
	CallNext(ctx context.Context, req queue.CallNextRequest) (queue.ClaimResult, error)
	StartServing(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	Hold(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	Resume(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	Complete(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	NoShow(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	Cancel(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	Recall(ctx context.Context, req queue.ActionRequest) (models.Ticket, error)
	Transfer(ctx context.Context, req queue.TransferRequest) (queue.TransferResult, error)
	EscalatePriority(ctx context.Context, req queue.EscalateRequest) (models.Ticket, error)
	SubmitFeedback(ctx context.Context, req queue.FeedbackRequest) (models.Ticket, error)
	GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error)
	ActiveTicket(ctx context.Context, tenantID, stationID string) (models.Ticket, bool, error)
	Queue(ctx context.Context, tenantID, branchID, serviceID string) ([]models.Ticket, error)
	History(ctx context.Context, tenantID, ticketID string) (queue.HistoryResult, error)
}

type Estimator interface {
	ForNewArrival(ctx context.Context, tenantID, branchID, serviceID string) models.Estimate
	ForTicket(ctx context.Context, ticket models.Ticket) models.Estimate
}

type SLA interface {
	Phase(ctx context.Context, ticket models.Ticket, now time.Time) (models.SLAStatus, error)
}

type Events interface {
	ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error)
	ListNotifications(ctx context.Context, tenantID, ticketID string) ([]models.NotificationRecord, error)
}

type Options struct {
	Estimator Estimator
	SLA       SLA
	Events    Events
	Realtime  http.Handler
	Metrics   http.Handler
	Now       func() time.Time
}

type Handler struct {
	queue     Queue
	estimator Estimator
	sla       SLA
	events    Events
	realtime  http.Handler
	metrics   http.Handler
	now       func() time.Time
}

type createTicketRequest struct {
	RequestID string          `json:"request_id"`
	TenantID  string          `json:"tenant_id"`
	BranchID  string          `json:"branch_id"`
	ServiceID string          `json:"service_id"`
	Source    string          `json:"source"`
	Notes     string          `json:"notes"`
	Customer  models.Customer `json:"customer"`
}

type callNextRequest struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

type actionRequest struct {
	TenantID    string `json:"tenant_id"`
	AgentID     string `json:"agent_id"`
	Notes       string `json:"notes"`
	ToServiceID string `json:"to_service_id"`
	Reason      string `json:"reason"`
	Level       *int   `json:"level"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
	Sentiment   string `json:"sentiment"`
}

type emptyClaim struct {
	Empty bool `json:"empty"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q Queue, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		queue:     q,
		estimator: options.Estimator,
		sla:       options.SLA,
		events:    options.Events,
		realtime:  options.Realtime,
		metrics:   options.Metrics,
		now:       now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/stations/", h.handleStation)
	mux.HandleFunc("/api/queues", h.handleQueue)
	mux.HandleFunc("/api/estimates", h.handleEstimate)
	mux.HandleFunc("/api/events", h.handleEvents)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	if h.realtime != nil {
		mux.Handle("/realtime/", h.realtime)
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Only the body request_id deduplicates creates. X-Request-ID is for
	// correlation and may repeat.
	requestID := requestIDFromRequest(r)

	ticket, created, err := h.queue.CreateTicket(r.Context(), queue.CreateRequest{
		RequestID: strings.TrimSpace(req.RequestID),
		TenantID:  strings.TrimSpace(req.TenantID),
		BranchID:  strings.TrimSpace(req.BranchID),
		ServiceID: strings.TrimSpace(req.ServiceID),
		Customer:  req.Customer,
		Source:    strings.TrimSpace(req.Source),
		Notes:     req.Notes,
	})
	if err != nil {
		writeMappedError(w, requestID, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ticket)
}

// handleTicket serves /api/tickets/{id}, /api/tickets/{id}/{estimate|sla|history|notifications}
// and POST /api/tickets/{id}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ticketID := parts[0]

	switch {
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAction(w, r, ticketID, parts[2])
	case len(parts) <= 2:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view := ""
		if len(parts) == 2 {
			view = parts[1]
		}
		h.handleTicketView(w, r, ticketID, view)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketView(w http.ResponseWriter, r *http.Request, ticketID, view string) {
	requestID := requestIDFromRequest(r)
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "tenant_id is required")
		return
	}

	if view == "history" {
		history, err := h.queue.History(r.Context(), tenantID, ticketID)
		if err != nil {
			writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
		return
	}

	ticket, err := h.queue.GetTicket(r.Context(), tenantID, ticketID)
	if err != nil {
		writeMappedError(w, requestID, err)
		return
	}

	switch view {
	case "":
		writeJSON(w, http.StatusOK, ticket)
	case "estimate":
		if h.estimator == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, h.estimator.ForTicket(r.Context(), ticket))
	case "sla":
		if h.sla == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, err := h.sla.Phase(r.Context(), ticket, h.now())
		if err != nil {
			writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case "notifications":
		if h.events == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		records, err := h.events.ListNotifications(r.Context(), tenantID, ticketID)
		if err != nil {
			writeMappedError(w, requestID, err)
			return
		}
		if records == nil {
			records = []models.NotificationRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	requestID := requestIDFromRequest(r)
	var req actionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	base := queue.ActionRequest{
		TenantID: strings.TrimSpace(req.TenantID),
		TicketID: ticketID,
		AgentID:  strings.TrimSpace(req.AgentID),
		Notes:    req.Notes,
	}
	ctx := r.Context()

	var (
		result interface{}
		err    error
	)
	switch action {
	case "start":
		result, err = h.queue.StartServing(ctx, base)
	case "hold":
		result, err = h.queue.Hold(ctx, base)
	case "resume":
		result, err = h.queue.Resume(ctx, base)
	case "complete":
		result, err = h.queue.Complete(ctx, base)
	case "no-show":
		result, err = h.queue.NoShow(ctx, base)
	case "cancel":
		result, err = h.queue.Cancel(ctx, base)
	case "recall":
		result, err = h.queue.Recall(ctx, base)
	case "transfer":
		result, err = h.queue.Transfer(ctx, queue.TransferRequest{
			TenantID:    base.TenantID,
			TicketID:    ticketID,
			AgentID:     base.AgentID,
			ToServiceID: strings.TrimSpace(req.ToServiceID),
			Reason:      req.Reason,
		})
	case "escalate":
		if req.Level == nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "level is required")
			return
		}
		result, err = h.queue.EscalatePriority(ctx, queue.EscalateRequest{
			TenantID: base.TenantID,
			TicketID: ticketID,
			Level:    *req.Level,
		})
	case "feedback":
		result, err = h.queue.SubmitFeedback(ctx, queue.FeedbackRequest{
			TenantID:  base.TenantID,
			TicketID:  ticketID,
			Rating:    req.Rating,
			Comment:   req.Comment,
			Sentiment: req.Sentiment,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStation serves POST /api/stations/{id}/call-next and
// GET /api/stations/{id}/active.
func (h *Handler) handleStation(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	stationID := parts[0]
	requestID := requestIDFromRequest(r)

	switch parts[1] {
	case "call-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req callNextRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		result, err := h.queue.CallNext(r.Context(), queue.CallNextRequest{
			TenantID:  strings.TrimSpace(req.TenantID),
			StationID: stationID,
			AgentID:   strings.TrimSpace(req.AgentID),
		})
		if err != nil {
			writeMappedError(w, requestID, err)
			return
		}
		if result.Empty {
			writeJSON(w, http.StatusOK, emptyClaim{Empty: true})
			return
		}
		writeJSON(w, http.StatusOK, result.Ticket)
	case "active":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, found, err := h.queue.ActiveTicket(r.Context(), strings.TrimSpace(r.URL.Query().Get("tenant_id")), stationID)
		if err != nil {
			writeMappedError(w, requestID, err)
			return
		}
		if !found {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	tickets, err := h.queue.Queue(r.Context(),
		strings.TrimSpace(query.Get("tenant_id")),
		strings.TrimSpace(query.Get("branch_id")),
		strings.TrimSpace(query.Get("service_id")),
	)
	if err != nil {
		writeMappedError(w, requestIDFromRequest(r), err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.estimator == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	query := r.URL.Query()
	tenantID := strings.TrimSpace(query.Get("tenant_id"))
	branchID := strings.TrimSpace(query.Get("branch_id"))
	serviceID := strings.TrimSpace(query.Get("service_id"))
	if tenantID == "" || branchID == "" || serviceID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "tenant_id, branch_id, and service_id are required")
		return
	}
	writeJSON(w, http.StatusOK, h.estimator.ForNewArrival(r.Context(), tenantID, branchID, serviceID))
}

// handleEvents lists outbox events for one tenant after (after_tx, after_seq),
// the tx_id and seq of the last event a caller has seen. Paging runs across
// tenants, so a page may hold fewer than limit events while more remain.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.events == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	requestID := requestIDFromRequest(r)
	query := r.URL.Query()
	tenantID := strings.TrimSpace(query.Get("tenant_id"))
	if tenantID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "tenant_id is required")
		return
	}

	var after store.OutboxOffset
	if raw := strings.TrimSpace(query.Get("after_seq")); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "after_seq must be a non-negative integer")
			return
		}
		after.LastSeq = seq
	}
	if raw := strings.TrimSpace(query.Get("after_tx")); raw != "" {
		txID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || txID < 0 {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "after_tx must be a non-negative integer")
			return
		}
		after.LastTxID = txID
	}
	limit := 100
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.events.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		writeMappedError(w, requestID, err)
		return
	}
	filtered := make([]store.OutboxEvent, 0, len(events))
	for _, event := range events {
		if event.TenantID == tenantID {
			filtered = append(filtered, event)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func mapError(err error) (int, string, string) {
	var validation *queue.ValidationError
	var notFound *queue.NotFoundError
	var conflict *queue.ConflictError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid_request", validation.Error()
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Kind + "_not_found", notFound.Error()
	case errors.As(err, &conflict):
		return http.StatusConflict, conflictCode(conflict), conflict.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func conflictCode(err *queue.ConflictError) string {
	switch {
	case errors.Is(err.Err, store.ErrAgentMismatch):
		return "agent_mismatch"
	case errors.Is(err.Err, store.ErrStationBusy):
		return "station_busy"
	case errors.Is(err.Err, store.ErrStationInactive):
		return "station_inactive"
	case errors.Is(err.Err, store.ErrServiceInactive):
		return "service_inactive"
	default:
		return "invalid_state"
	}
}

func writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request error request_id=%s: %v", requestID, err)
	}
	writeError(w, requestID, status, code, msg)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
