package store

import "errors"

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrStationNotFound = errors.New("station not found")
	ErrNoTicket        = errors.New("no ticket available")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrAgentMismatch   = errors.New("agent mismatch")
	ErrStationBusy     = errors.New("station already has an active ticket")
	ErrStationInactive = errors.New("station inactive")
	ErrInvalidAction   = errors.New("unknown ticket action")
	ErrServiceInactive = errors.New("service inactive")

	ErrNotificationNotFound = errors.New("notification not found")
)
