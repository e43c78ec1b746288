package queue

import (
	"errors"
	"fmt"

	"qms/queue-service/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports a guard that failed. The ticket is left as it was;
// callers retry against fresh state.
type ConflictError struct {
	Op       string
	TicketID string
	Status   string
	Reason   string
	Err      error
}

func (e *ConflictError) Error() string {
	if e.TicketID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	if e.Status == "" {
		return fmt.Sprintf("%s ticket %s: %s", e.Op, e.TicketID, e.Reason)
	}
	return fmt.Sprintf("%s ticket %s (status %s): %s", e.Op, e.TicketID, e.Status, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// translate maps store sentinels onto the engine's error taxonomy. Errors it
// does not recognise are returned unchanged.
func translate(op, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTicketNotFound):
		return &NotFoundError{Kind: "ticket", ID: id}
	case errors.Is(err, store.ErrStationNotFound):
		return &NotFoundError{Kind: "station", ID: id}
	case errors.Is(err, store.ErrServiceNotFound):
		return &NotFoundError{Kind: "service", ID: id}
	case errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrAgentMismatch),
		errors.Is(err, store.ErrStationBusy),
		errors.Is(err, store.ErrStationInactive),
		errors.Is(err, store.ErrServiceInactive),
		errors.Is(err, store.ErrInvalidAction):
		return &ConflictError{Op: op, TicketID: id, Reason: err.Error(), Err: err}
	default:
		return err
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
