package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

const ticketColumns = `ticket_id, ticket_number, tenant_id, branch_id, service_id, request_id, customer, status,
	priority, priority_rule_id, source, station_id, agent_id, created_at, called_at, started_at, completed_at,
	recall_count, notes, transferred_from, feedback`

var activeStatuses = []string{models.StatusCalled, models.StatusServing, models.StatusOnHold}

var terminalStatuses = []string{models.StatusCompleted, models.StatusTransferred, models.StatusNoShow, models.StatusCancelled}

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	var ticket models.Ticket
	created := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if input.RequestID != "" {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, input.TenantID+"/"+input.RequestID); err != nil {
				return err
			}
			existing, found, err := findTicketByRequestID(ctx, tx, input.TenantID, input.RequestID)
			if err != nil {
				return err
			}
			if found {
				ticket = existing
				return nil
			}
		}

		if input.CreatedAt.IsZero() {
			input.CreatedAt = s.now()
		}
		input.CreatedAt = truncate(input.CreatedAt)
		inserted, err := insertTicket(ctx, tx, input)
		if err != nil {
			return err
		}
		if err := emit(ctx, tx, inserted, store.EventCreated, inserted.CreatedAt, nil); err != nil {
			return err
		}
		ticket = inserted
		created = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, created, nil
}

func insertTicket(ctx context.Context, tx pgx.Tx, input store.CreateTicketInput) (models.Ticket, error) {
	var code, branchID string
	var active bool
	row := tx.QueryRow(ctx, `
		SELECT code, branch_id, active
		FROM services
		WHERE tenant_id = $1 AND service_id = $2
	`, input.TenantID, input.ServiceID)
	if err := row.Scan(&code, &branchID, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrServiceNotFound
		}
		return models.Ticket{}, err
	}
	if branchID != input.BranchID {
		return models.Ticket{}, store.ErrServiceNotFound
	}
	if !active {
		return models.Ticket{}, store.ErrServiceInactive
	}

	seq, err := nextTicketNumber(ctx, tx, input.TenantID, input.BranchID, input.ServiceID)
	if err != nil {
		return models.Ticket{}, err
	}
	number := fmt.Sprintf("%s-%0*d", code, ticketNumberPad, seq)

	customer := input.Customer
	if customer.PushTarget != "" {
		inactive, err := pushTargetInactive(ctx, tx, input.TenantID, customer.PushTarget)
		if err != nil {
			return models.Ticket{}, err
		}
		if inactive {
			customer.PushTarget = ""
		}
	}
	customerJSON, err := json.Marshal(customer)
	if err != nil {
		return models.Ticket{}, err
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, ticket_number, tenant_id, branch_id, service_id, request_id, customer,
			status, priority, priority_rule_id, source, created_at, notes, transferred_from
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+ticketColumns,
		uuid.NewString(), number, input.TenantID, input.BranchID, input.ServiceID, nullIfEmpty(input.RequestID), string(customerJSON),
		models.StatusWaiting, input.Priority, input.PriorityRuleID, input.Source, input.CreatedAt, input.Notes, input.TransferredFrom)
	return scanTicket(row)
}

func (s *Store) GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1 AND tenant_id = $2`, ticketID, tenantID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, tenantID, branchID string, serviceIDs []string) ([]models.Ticket, error) {
	if serviceIDs == nil {
		serviceIDs = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND branch_id = $2 AND status = 'waiting'
			AND (cardinality($3::text[]) = 0 OR service_id = ANY($3))
		ORDER BY priority DESC, created_at ASC, ticket_id COLLATE "C" ASC
	`, tenantID, branchID, serviceIDs)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ListServing(ctx context.Context, tenantID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'serving' AND ($1 = '' OR tenant_id = $1)
		ORDER BY ticket_id COLLATE "C" ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) GetActiveTicket(ctx context.Context, tenantID, stationID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND station_id = $2 AND status = ANY($3)
		ORDER BY called_at DESC
		LIMIT 1
	`, tenantID, stationID, activeStatuses)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// ClaimNext locks the station row, so claims for one station serialize, and
// picks the head of the queue with SKIP LOCKED, so claims for different
// stations never receive the same ticket.
func (s *Store) ClaimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = s.now()
	}
	calledAt = truncate(calledAt)
	serviceIDs := input.ServiceIDs
	if serviceIDs == nil {
		serviceIDs = []string{}
	}

	var ticket models.Ticket
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var active bool
		row := tx.QueryRow(ctx, `
			SELECT active FROM stations
			WHERE tenant_id = $1 AND station_id = $2
			FOR UPDATE
		`, input.TenantID, input.StationID)
		if err := row.Scan(&active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrStationNotFound
			}
			return err
		}
		if !active {
			return store.ErrStationInactive
		}

		var busy bool
		row = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tickets
				WHERE tenant_id = $1 AND station_id = $2 AND status = ANY($3)
			)
		`, input.TenantID, input.StationID, activeStatuses)
		if err := row.Scan(&busy); err != nil {
			return err
		}
		if busy {
			return store.ErrStationBusy
		}

		row = tx.QueryRow(ctx, `
			WITH next_ticket AS (
				SELECT ticket_id AS next_id
				FROM tickets
				WHERE tenant_id = $1 AND branch_id = $2 AND status = 'waiting'
					AND (cardinality($3::text[]) = 0 OR service_id = ANY($3))
				ORDER BY priority DESC, created_at ASC, ticket_id COLLATE "C" ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE tickets
			SET status = 'called',
				station_id = $4,
				agent_id = $5,
				called_at = $6
			FROM next_ticket
			WHERE tickets.ticket_id = next_ticket.next_id
			RETURNING `+ticketColumns,
			input.TenantID, input.BranchID, serviceIDs, input.StationID, input.AgentID, calledAt)
		claimed, err := scanTicket(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNoTicket
			}
			return err
		}
		if err := emit(ctx, tx, claimed, "ticket.called", calledAt, nil); err != nil {
			return err
		}
		ticket = claimed
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	rule, ok := store.LookupRule(input.Action)
	if !ok || rule.To == "" {
		return models.Ticket{}, store.ErrInvalidAction
	}
	at := s.at(input.OccurredAt)

	set := `status = $1, notes = CASE WHEN $2::text = '' THEN notes WHEN notes = '' THEN $2::text ELSE notes || E'\n' || $2::text END`
	args := []interface{}{rule.To, input.Notes}
	if rule.Stamp != store.StampNone {
		set += fmt.Sprintf(", %s = $3", rule.Stamp)
		args = append(args, at)
	}

	var ticket models.Ticket
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		updated, err := guardedUpdate(ctx, tx, set, args, input.TenantID, input.TicketID, input.AgentID, rule)
		if err != nil {
			return err
		}
		if err := emit(ctx, tx, updated, rule.EventType, at, nil); err != nil {
			return err
		}
		ticket = updated
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) TransferTicket(ctx context.Context, input store.TransferInput) (models.Ticket, models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionTransfer)
	at := s.at(input.OccurredAt)

	var closed, created models.Ticket
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		closed, err = guardedUpdate(ctx, tx, `status = $1, completed_at = $2`, []interface{}{models.StatusTransferred, at},
			input.TenantID, input.TicketID, input.AgentID, rule)
		if err != nil {
			return err
		}

		var targetBranch string
		row := tx.QueryRow(ctx, `SELECT branch_id FROM services WHERE tenant_id = $1 AND service_id = $2`, input.TenantID, input.ToServiceID)
		if err := row.Scan(&targetBranch); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrServiceNotFound
			}
			return err
		}

		created, err = insertTicket(ctx, tx, store.CreateTicketInput{
			TenantID:        input.TenantID,
			BranchID:        targetBranch,
			ServiceID:       input.ToServiceID,
			Customer:        closed.Customer,
			Source:          closed.Source,
			Priority:        input.Priority,
			PriorityRuleID:  input.PriorityRule,
			Notes:           store.TransferNote(closed.TicketNumber, input.Reason),
			TransferredFrom: closed.TicketID,
			CreatedAt:       at,
		})
		if err != nil {
			return err
		}

		err = emit(ctx, tx, closed, rule.EventType, at, func(payload *store.EventPayload) {
			payload.FromServiceID = closed.ServiceID
			payload.ToServiceID = created.ServiceID
			payload.NewTicketID = created.TicketID
			payload.Reason = input.Reason
		})
		if err != nil {
			return err
		}
		return emit(ctx, tx, created, store.EventCreated, at, nil)
	})
	if err != nil {
		return models.Ticket{}, models.Ticket{}, err
	}
	return closed, created, nil
}

func (s *Store) RecallTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionRecall)
	return s.updateAndEmit(ctx, `recall_count = recall_count + 1`, nil, input.TenantID, input.TicketID, input.AgentID, rule, s.at(input.OccurredAt))
}

func (s *Store) EscalatePriority(ctx context.Context, input store.EscalateInput) (models.Ticket, error) {
	rule, _ := store.LookupRule(store.ActionEscalate)
	return s.updateAndEmit(ctx, `priority = $1, priority_rule_id = ''`, []interface{}{input.Priority}, input.TenantID, input.TicketID, "", rule, s.at(input.OccurredAt))
}

func (s *Store) SubmitFeedback(ctx context.Context, input store.FeedbackInput) (models.Ticket, error) {
	at := s.at(input.SubmittedAt)
	feedback, err := json.Marshal(models.Feedback{
		Rating:      input.Rating,
		Comment:     input.Comment,
		Sentiment:   input.Sentiment,
		SubmittedAt: at,
	})
	if err != nil {
		return models.Ticket{}, err
	}
	rule := store.Rule{From: terminalStatuses, EventType: store.EventFeedback}
	return s.updateAndEmit(ctx, `feedback = $1`, []interface{}{string(feedback)}, input.TenantID, input.TicketID, "", rule, at)
}

func (s *Store) updateAndEmit(ctx context.Context, set string, args []interface{}, tenantID, ticketID, agentID string, rule store.Rule, at time.Time) (models.Ticket, error) {
	var ticket models.Ticket
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		updated, err := guardedUpdate(ctx, tx, set, args, tenantID, ticketID, agentID, rule)
		if err != nil {
			return err
		}
		if err := emit(ctx, tx, updated, rule.EventType, at, nil); err != nil {
			return err
		}
		ticket = updated
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) AutoNoShow(ctx context.Context, cutoff time.Time, batchSize int) ([]models.Ticket, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	rule, _ := store.LookupRule(store.ActionNoShow)
	at := s.at(time.Time{})

	var expired []models.Ticket
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT ticket_id
			FROM tickets
			WHERE status = 'called' AND called_at < $1
			ORDER BY called_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		`, cutoff, batchSize)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		expired = expired[:0]
		for _, id := range ids {
			row := tx.QueryRow(ctx, `
				UPDATE tickets
				SET status = 'no_show', completed_at = $2
				WHERE ticket_id = $1
				RETURNING `+ticketColumns, id, at)
			ticket, err := scanTicket(row)
			if err != nil {
				return err
			}
			err = emit(ctx, tx, ticket, rule.EventType, at, func(payload *store.EventPayload) {
				payload.Reason = store.ReasonAutoNoShow
			})
			if err != nil {
				return err
			}
			expired = append(expired, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// guardedUpdate applies set only when the ticket is in one of rule.From and,
// when an agent is named or required, assigned to that agent. set uses
// placeholders $1..$len(args). A miss is classified by re-reading the row.
func guardedUpdate(ctx context.Context, tx pgx.Tx, set string, args []interface{}, tenantID, ticketID, agentID string, rule store.Rule) (models.Ticket, error) {
	checkAgent := rule.RequireAgent || agentID != ""
	query := guardedUpdateQuery(set, len(args))
	params := append(append([]interface{}{}, args...), ticketID, tenantID, rule.From, checkAgent, agentID)

	ticket, err := scanTicket(tx.QueryRow(ctx, query, params...))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, err
	}

	status, assigned, exists, err := loadTicketState(ctx, tx, ticketID, tenantID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !exists {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !rule.Allows(status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	if checkAgent && assigned != agentID {
		return models.Ticket{}, store.ErrAgentMismatch
	}
	return models.Ticket{}, store.ErrInvalidState
}

func guardedUpdateQuery(set string, n int) string {
	return fmt.Sprintf(`
		UPDATE tickets
		SET %s
		WHERE ticket_id = $%d AND tenant_id = $%d AND status = ANY($%d)
			AND (NOT $%d::boolean OR agent_id = $%d::text)
		RETURNING %s`, set, n+1, n+2, n+3, n+4, n+5, ticketColumns)
}

func (s *Store) ListTicketEvents(ctx context.Context, tenantID, ticketID string) ([]store.TicketEvent, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE tenant_id = $1 AND ticket_id = $2)`, tenantID, ticketID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrTicketNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.TicketEvent, error) {
		var event store.TicketEvent
		var payload string
		if err := row.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return store.TicketEvent{}, err
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		return event, nil
	})
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx, tenantID, branchID, serviceID string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (tenant_id, branch_id, service_id, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, branch_id, service_id)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, tenantID, branchID, serviceID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, tenantID, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE tenant_id = $1 AND request_id = $2`, tenantID, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func loadTicketState(ctx context.Context, tx pgx.Tx, ticketID, tenantID string) (string, string, bool, error) {
	var status string
	var agentID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT status, agent_id
		FROM tickets
		WHERE ticket_id = $1 AND tenant_id = $2
	`, ticketID, tenantID)
	if err := row.Scan(&status, &agentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return status, agentID.String, true, nil
}

func pushTargetInactive(ctx context.Context, tx pgx.Tx, tenantID, target string) (bool, error) {
	var inactive bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inactive_push_targets WHERE tenant_id = $1 AND target = $2)`, tenantID, target)
	if err := row.Scan(&inactive); err != nil {
		return false, err
	}
	return inactive, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var requestID, stationID, agentID sql.NullString
	var calledAt, startedAt, completedAt sql.NullTime
	var customer, feedback []byte
	if err := row.Scan(
		&ticket.TicketID, &ticket.TicketNumber, &ticket.TenantID, &ticket.BranchID, &ticket.ServiceID, &requestID, &customer, &ticket.Status,
		&ticket.Priority, &ticket.PriorityRuleID, &ticket.Source, &stationID, &agentID, &ticket.CreatedAt, &calledAt, &startedAt, &completedAt,
		&ticket.RecallCount, &ticket.Notes, &ticket.TransferredFrom, &feedback,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.RequestID = requestID.String
	ticket.StationID = nullStringPtr(stationID)
	ticket.AgentID = nullStringPtr(agentID)
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.StartedAt = nullTimePtr(startedAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &ticket.Customer); err != nil {
			return models.Ticket{}, fmt.Errorf("decode customer: %w", err)
		}
	}
	if len(feedback) > 0 {
		var fb models.Feedback
		if err := json.Unmarshal(feedback, &fb); err != nil {
			return models.Ticket{}, fmt.Errorf("decode feedback: %w", err)
		}
		ticket.Feedback = &fb
	}
	store.ApplyDurations(&ticket)
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Ticket, error) {
		return scanTicket(row)
	})
}

// at returns t, or now when t is zero, at the precision timestamptz keeps.
// Event hashes cover timestamps, so they must survive a round trip.
func (s *Store) at(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return truncate(t)
}

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
