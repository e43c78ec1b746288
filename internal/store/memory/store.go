package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
)

const ticketNumberPad = 3

// Store keeps every table in maps behind one mutex. Each mutation checks its
// guard and applies the change under the same lock, which is what makes
// ClaimNext and Transition compare-and-swap operations.
type Store struct {
	mu sync.Mutex

	services  map[string]models.Service
	stations  map[string]models.Station
	rules     map[string][]models.PriorityRule
	slas      map[string][]models.SLAConfig
	tickets   map[string]models.Ticket
	requests  map[string]string
	sequences map[string]int64
	events    map[string][]store.TicketEvent

	outbox    []store.OutboxEvent
	outboxSeq int64
	offsets   map[string]store.OutboxOffset

	notifications []models.NotificationRecord
	attempts      map[string]int
	inactivePush  map[string]bool

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		services:     make(map[string]models.Service),
		stations:     make(map[string]models.Station),
		rules:        make(map[string][]models.PriorityRule),
		slas:         make(map[string][]models.SLAConfig),
		tickets:      make(map[string]models.Ticket),
		requests:     make(map[string]string),
		sequences:    make(map[string]int64),
		events:       make(map[string][]store.TicketEvent),
		offsets:      make(map[string]store.OutboxOffset),
		attempts:     make(map[string]int),
		inactivePush: make(map[string]bool),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the fallback clock used when an input carries no
// timestamp.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func key(parts ...string) string {
	return strings.Join(parts, "/")
}

func (s *Store) PutService(service models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[key(service.TenantID, service.ServiceID)] = service
}

func (s *Store) PutStation(station models.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[key(station.TenantID, station.StationID)] = station
}

func (s *Store) PutPriorityRule(rule models.PriorityRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[rule.TenantID]
	for i := range rules {
		if rules[i].RuleID == rule.RuleID {
			rules[i] = rule
			return
		}
	}
	s.rules[rule.TenantID] = append(rules, rule)
}

func (s *Store) PutSLAConfig(cfg models.SLAConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := s.slas[cfg.TenantID]
	for i := range configs {
		if configs[i].ServiceID == cfg.ServiceID {
			configs[i] = cfg
			return
		}
	}
	s.slas[cfg.TenantID] = append(configs, cfg)
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if id, ok := s.requests[key(input.TenantID, input.RequestID)]; ok {
			return s.tickets[id], false, nil
		}
	}

	ticket, err := s.insertTicketLocked(input)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if err := s.emitLocked(ticket, store.EventCreated, ticket.CreatedAt, nil); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) insertTicketLocked(input store.CreateTicketInput) (models.Ticket, error) {
	service, ok := s.services[key(input.TenantID, input.ServiceID)]
	if !ok || service.BranchID != input.BranchID {
		return models.Ticket{}, store.ErrServiceNotFound
	}
	if !service.Active {
		return models.Ticket{}, store.ErrServiceInactive
	}

	seqKey := key(input.TenantID, input.BranchID, input.ServiceID)
	s.sequences[seqKey]++
	number := fmt.Sprintf("%s-%0*d", service.Code, ticketNumberPad, s.sequences[seqKey])

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	ticket := models.Ticket{
		TicketID:        uuid.NewString(),
		TicketNumber:    number,
		TenantID:        input.TenantID,
		BranchID:        input.BranchID,
		ServiceID:       input.ServiceID,
		Customer:        input.Customer,
		Status:          models.StatusWaiting,
		Priority:        input.Priority,
		PriorityRuleID:  input.PriorityRuleID,
		Source:          input.Source,
		RequestID:       input.RequestID,
		CreatedAt:       createdAt,
		Notes:           input.Notes,
		TransferredFrom: input.TransferredFrom,
	}
	if s.inactivePush[key(input.TenantID, ticket.Customer.PushTarget)] {
		ticket.Customer.PushTarget = ""
	}

	s.tickets[ticket.TicketID] = ticket
	if input.RequestID != "" {
		s.requests[key(input.TenantID, input.RequestID)] = ticket.TicketID
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketLocked(tenantID, ticketID)
}

func (s *Store) ticketLocked(tenantID, ticketID string) (models.Ticket, error) {
	ticket, ok := s.tickets[ticketID]
	if !ok || ticket.TenantID != tenantID {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, tenantID, branchID string, serviceIDs []string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingLocked(tenantID, branchID, serviceIDs), nil
}

func (s *Store) waitingLocked(tenantID, branchID string, serviceIDs []string) []models.Ticket {
	var waiting []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status != models.StatusWaiting || ticket.TenantID != tenantID || ticket.BranchID != branchID {
			continue
		}
		if len(serviceIDs) > 0 && !contains(serviceIDs, ticket.ServiceID) {
			continue
		}
		waiting = append(waiting, ticket)
	}
	store.SortQueue(waiting)
	return waiting
}

func (s *Store) ListServing(ctx context.Context, tenantID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var serving []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status != models.StatusServing {
			continue
		}
		if tenantID != "" && ticket.TenantID != tenantID {
			continue
		}
		serving = append(serving, ticket)
	}
	sort.Slice(serving, func(i, j int) bool {
		return serving[i].TicketID < serving[j].TicketID
	})
	return serving, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, tenantID, stationID string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.activeForStationLocked(tenantID, stationID)
	return ticket, ok, nil
}

func (s *Store) activeForStationLocked(tenantID, stationID string) (models.Ticket, bool) {
	for _, ticket := range s.tickets {
		if ticket.TenantID != tenantID || ticket.StationID == nil || *ticket.StationID != stationID {
			continue
		}
		switch ticket.Status {
		case models.StatusCalled, models.StatusServing, models.StatusOnHold:
			return ticket, true
		}
	}
	return models.Ticket{}, false
}

func (s *Store) ClaimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	station, ok := s.stations[key(input.TenantID, input.StationID)]
	if !ok {
		return models.Ticket{}, store.ErrStationNotFound
	}
	if !station.Active {
		return models.Ticket{}, store.ErrStationInactive
	}
	if _, busy := s.activeForStationLocked(input.TenantID, input.StationID); busy {
		return models.Ticket{}, store.ErrStationBusy
	}

	waiting := s.waitingLocked(input.TenantID, input.BranchID, input.ServiceIDs)
	if len(waiting) == 0 {
		return models.Ticket{}, store.ErrNoTicket
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = s.now()
	}
	ticket := waiting[0]
	stationID := input.StationID
	agentID := input.AgentID
	ticket.Status = models.StatusCalled
	ticket.StationID = &stationID
	ticket.AgentID = &agentID
	ticket.CalledAt = &calledAt
	store.ApplyDurations(&ticket)
	s.tickets[ticket.TicketID] = ticket

	if err := s.emitLocked(ticket, "ticket.called", calledAt, nil); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	rule, ok := store.LookupRule(input.Action)
	if !ok || rule.To == "" {
		return models.Ticket{}, store.ErrInvalidAction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.guardLocked(input.TenantID, input.TicketID, input.AgentID, rule)
	if err != nil {
		return models.Ticket{}, err
	}

	at := s.at(input.OccurredAt)
	ticket.Status = rule.To
	switch rule.Stamp {
	case store.StampStarted:
		ticket.StartedAt = &at
	case store.StampCompleted:
		ticket.CompletedAt = &at
	}
	if input.Notes != "" {
		ticket.Notes = appendNote(ticket.Notes, input.Notes)
	}
	store.ApplyDurations(&ticket)
	s.tickets[ticket.TicketID] = ticket

	if err := s.emitLocked(ticket, rule.EventType, at, nil); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) guardLocked(tenantID, ticketID, agentID string, rule store.Rule) (models.Ticket, error) {
	ticket, err := s.ticketLocked(tenantID, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !rule.Allows(ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	if rule.RequireAgent || agentID != "" {
		if ticket.AgentID == nil || *ticket.AgentID != agentID {
			return models.Ticket{}, store.ErrAgentMismatch
		}
	}
	return ticket, nil
}

func (s *Store) TransferTicket(ctx context.Context, input store.TransferInput) (models.Ticket, models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionTransfer)

	s.mu.Lock()
	defer s.mu.Unlock()

	closed, err := s.guardLocked(input.TenantID, input.TicketID, input.AgentID, rule)
	if err != nil {
		return models.Ticket{}, models.Ticket{}, err
	}
	target, ok := s.services[key(input.TenantID, input.ToServiceID)]
	if !ok {
		return models.Ticket{}, models.Ticket{}, store.ErrServiceNotFound
	}

	at := s.at(input.OccurredAt)
	created, err := s.insertTicketLocked(store.CreateTicketInput{
		TenantID:        input.TenantID,
		BranchID:        target.BranchID,
		ServiceID:       target.ServiceID,
		Customer:        closed.Customer,
		Source:          closed.Source,
		Priority:        input.Priority,
		PriorityRuleID:  input.PriorityRule,
		Notes:           store.TransferNote(closed.TicketNumber, input.Reason),
		TransferredFrom: closed.TicketID,
		CreatedAt:       at,
	})
	if err != nil {
		return models.Ticket{}, models.Ticket{}, err
	}

	closed.Status = models.StatusTransferred
	closed.CompletedAt = &at
	store.ApplyDurations(&closed)
	s.tickets[closed.TicketID] = closed

	err = s.emitLocked(closed, rule.EventType, at, func(payload *store.EventPayload) {
		payload.FromServiceID = closed.ServiceID
		payload.ToServiceID = created.ServiceID
		payload.NewTicketID = created.TicketID
		payload.Reason = input.Reason
	})
	if err != nil {
		return models.Ticket{}, models.Ticket{}, err
	}
	if err := s.emitLocked(created, store.EventCreated, at, nil); err != nil {
		return models.Ticket{}, models.Ticket{}, err
	}
	return closed, created, nil
}

func (s *Store) RecallTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionRecall)

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.guardLocked(input.TenantID, input.TicketID, input.AgentID, rule)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.RecallCount++
	s.tickets[ticket.TicketID] = ticket

	if err := s.emitLocked(ticket, rule.EventType, s.at(input.OccurredAt), nil); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) EscalatePriority(ctx context.Context, input store.EscalateInput) (models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionEscalate)

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.guardLocked(input.TenantID, input.TicketID, "", rule)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.Priority = input.Priority
	ticket.PriorityRuleID = ""
	s.tickets[ticket.TicketID] = ticket

	if err := s.emitLocked(ticket, rule.EventType, s.at(input.OccurredAt), nil); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) SubmitFeedback(ctx context.Context, input store.FeedbackInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.ticketLocked(input.TenantID, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !models.IsTerminal(ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	at := s.at(input.SubmittedAt)
	ticket.Feedback = &models.Feedback{
		Rating:      input.Rating,
		Comment:     input.Comment,
		Sentiment:   input.Sentiment,
		SubmittedAt: at,
	}
	s.tickets[ticket.TicketID] = ticket

	if err := s.emitLocked(ticket, store.EventFeedback, at, nil); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) AutoNoShow(ctx context.Context, cutoff time.Time, batchSize int) ([]models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionNoShow)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusCalled && ticket.CalledAt != nil && ticket.CalledAt.Before(cutoff) {
			expired = append(expired, ticket)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CalledAt.Before(*expired[j].CalledAt)
	})
	if batchSize > 0 && len(expired) > batchSize {
		expired = expired[:batchSize]
	}

	at := s.now()
	for i := range expired {
		ticket := expired[i]
		ticket.Status = models.StatusNoShow
		ticket.CompletedAt = &at
		s.tickets[ticket.TicketID] = ticket
		err := s.emitLocked(ticket, rule.EventType, at, func(payload *store.EventPayload) {
			payload.Reason = store.ReasonAutoNoShow
		})
		if err != nil {
			return nil, err
		}
		expired[i] = ticket
	}
	return expired, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, tenantID, ticketID string) ([]store.TicketEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ticketLocked(tenantID, ticketID); err != nil {
		return nil, err
	}
	events := s.events[ticketID]
	out := make([]store.TicketEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) CountWaiting(ctx context.Context, tenantID, branchID, serviceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waitingLocked(tenantID, branchID, []string{serviceID})), nil
}

func (s *Store) CountWaitingAhead(ctx context.Context, ticket models.Ticket) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, other := range s.waitingLocked(ticket.TenantID, ticket.BranchID, []string{ticket.ServiceID}) {
		if other.TicketID != ticket.TicketID && store.Ahead(other, ticket) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountActiveStations(ctx context.Context, tenantID, branchID, serviceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stations := make(map[string]struct{})
	for _, ticket := range s.tickets {
		if ticket.TenantID != tenantID || ticket.BranchID != branchID || ticket.ServiceID != serviceID || ticket.StationID == nil {
			continue
		}
		if ticket.Status == models.StatusCalled || ticket.Status == models.StatusServing {
			stations[*ticket.StationID] = struct{}{}
		}
	}
	return len(stations), nil
}

func (s *Store) ServiceHistory(ctx context.Context, tenantID, branchID, serviceID string, since time.Time, limit int) (store.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status != models.StatusCompleted || ticket.TenantID != tenantID || ticket.BranchID != branchID || ticket.ServiceID != serviceID {
			continue
		}
		if ticket.CompletedAt == nil || ticket.CompletedAt.Before(since) {
			continue
		}
		completed = append(completed, ticket)
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CompletedAt.After(*completed[j].CompletedAt)
	})
	if limit > 0 && len(completed) > limit {
		completed = completed[:limit]
	}

	var history store.History
	var waitTotal, serviceTotal float64
	for _, ticket := range completed {
		if ticket.WaitSeconds != nil {
			waitTotal += float64(*ticket.WaitSeconds)
		}
		if ticket.ServiceSeconds != nil {
			serviceTotal += float64(*ticket.ServiceSeconds)
		}
	}
	history.Samples = len(completed)
	if history.Samples > 0 {
		history.AvgWaitSeconds = waitTotal / float64(history.Samples)
		history.AvgServiceSeconds = serviceTotal / float64(history.Samples)
	}
	return history, nil
}

func (s *Store) GetService(ctx context.Context, tenantID, serviceID string) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	service, ok := s.services[key(tenantID, serviceID)]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (s *Store) GetStation(ctx context.Context, tenantID, stationID string) (models.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	station, ok := s.stations[key(tenantID, stationID)]
	if !ok {
		return models.Station{}, store.ErrStationNotFound
	}
	return station, nil
}

func (s *Store) ListPriorityRules(ctx context.Context, tenantID string) ([]models.PriorityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := make([]models.PriorityRule, len(s.rules[tenantID]))
	copy(rules, s.rules[tenantID])
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].SortOrder < rules[j].SortOrder
	})
	return rules, nil
}

func (s *Store) ListSLAConfigs(ctx context.Context, tenantID string) ([]models.SLAConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := make([]models.SLAConfig, len(s.slas[tenantID]))
	copy(configs, s.slas[tenantID])
	return configs, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if !after.Before(event) {
			continue
		}
		events = append(events, event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[consumer], nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[consumer] = offset
	return nil
}

func (s *Store) LatestOutboxOffset(ctx context.Context) (store.OutboxOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outbox) == 0 {
		return store.OutboxOffset{}, nil
	}
	return store.OutboxOffset{}.Advance(s.outbox[len(s.outbox)-1]), nil
}

func (s *Store) InsertNotification(ctx context.Context, record models.NotificationRecord) (models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.NotificationID == "" {
		record.NotificationID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = models.NotificationPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	attemptKey := key(record.TicketID, record.EventType, record.Channel)
	s.attempts[attemptKey]++
	record.Attempt = s.attempts[attemptKey]

	s.notifications = append(s.notifications, record)
	return record, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID, externalID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].NotificationID == notificationID {
			s.notifications[i].Status = models.NotificationSent
			s.notifications[i].ExternalID = externalID
			s.notifications[i].SentAt = &sentAt
			return nil
		}
	}
	return store.ErrNotificationNotFound
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].NotificationID == notificationID {
			s.notifications[i].Status = models.NotificationFailed
			s.notifications[i].Error = lastError
			return nil
		}
	}
	return store.ErrNotificationNotFound
}

func (s *Store) ListNotifications(ctx context.Context, tenantID, ticketID string) ([]models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []models.NotificationRecord
	for _, record := range s.notifications {
		if record.TenantID != tenantID {
			continue
		}
		if ticketID != "" && record.TicketID != ticketID {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) DeactivatePushTarget(ctx context.Context, tenantID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactivePush[key(tenantID, target)] = true
	for id, ticket := range s.tickets {
		if ticket.TenantID == tenantID && ticket.Customer.PushTarget == target {
			ticket.Customer.PushTarget = ""
			s.tickets[id] = ticket
		}
	}
	return nil
}

// emitLocked appends the outbox event and the next chained ticket event for
// a mutation that has just been applied.
func (s *Store) emitLocked(ticket models.Ticket, eventType string, at time.Time, extra func(*store.EventPayload)) error {
	payload := store.NewEventPayload(ticket, at)
	if service, ok := s.services[key(ticket.TenantID, ticket.ServiceID)]; ok {
		payload.ServiceName = service.Name
	}
	if ticket.StationID != nil {
		if station, ok := s.stations[key(ticket.TenantID, *ticket.StationID)]; ok {
			payload.StationNumber = station.Number
		}
	}
	if extra != nil {
		extra(&payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.outboxSeq++
	s.outbox = append(s.outbox, store.OutboxEvent{
		TxID:      s.outboxSeq,
		Seq:       s.outboxSeq,
		EventID:   uuid.NewString(),
		TenantID:  ticket.TenantID,
		Type:      eventType,
		Payload:   raw,
		CreatedAt: at,
	})

	var prev *store.TicketEvent
	if chain := s.events[ticket.TicketID]; len(chain) > 0 {
		prev = &chain[len(chain)-1]
	}
	s.events[ticket.TicketID] = append(s.events[ticket.TicketID], store.ChainEvent(prev, ticket.TicketID, eventType, raw, at))
	return nil
}

func (s *Store) at(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
