package store

import "github.com/rotisserie/eris"

var (
	ErrTicketNotFound  = eris.New("ticket not found")
	ErrTicketExists    = eris.New("ticket already exists")
	ErrContention      = eris.New("ticket is not pending")
	ErrOwnerMismatch   = eris.New("reservation owner mismatch")
	ErrTicketReserved  = eris.New("ticket is held by a live proposal")
	ErrAlreadyAssigned = eris.New("assignment already written")
	ErrProfileNotFound = eris.New("profile not found")
	ErrProfileExists   = eris.New("profile already exists")
)
