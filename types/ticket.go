// Package types provides data types for matchmaking.
package types

import (
	"time"

	"github.com/rotisserie/eris"
)

// TicketState tracks where a ticket is in its lifecycle.
type TicketState string

const (
	// TicketStatePending means the ticket is waiting to be matched and is
	// visible to pool queries.
	TicketStatePending TicketState = "pending"

	// TicketStateReserved means the ticket is claimed by an in-flight match
	// proposal and hidden from pool queries.
	TicketStateReserved TicketState = "reserved"

	// TicketStateAssigned means the ticket received a server assignment.
	TicketStateAssigned TicketState = "assigned"

	// TicketStateExpired means the ticket aged out before being matched.
	TicketStateExpired TicketState = "expired"
)

// Ticket represents a matchmaking request.
type Ticket struct {
	ID           string       `json:"id"`
	SearchFields SearchFields `json:"search_fields"`
	Extensions   Extensions   `json:"extensions,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	State        TicketState  `json:"state"`

	// ReservedBy is the match id that currently holds this ticket.
	// Empty unless State is reserved or assigned.
	ReservedBy string `json:"reserved_by,omitempty"`

	// ReservationDeadline is when a reservation lapses back to pending.
	ReservationDeadline time.Time `json:"reservation_deadline,omitempty"`

	// AssignedAt is when the ticket received its assignment.
	AssignedAt time.Time `json:"assigned_at,omitempty"`
}

// SearchFields contains properties for filter matching.
type SearchFields struct {
	StringArgs map[string]string  `json:"string_args,omitempty"`
	DoubleArgs map[string]float64 `json:"double_args,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
}

// WaitTime returns how long the ticket has been waiting.
func (t *Ticket) WaitTime(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// IsExpired returns true if the ticket aged past its expiry.
func (t *Ticket) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Validate checks that the ticket is well-formed enough to store.
func (t *Ticket) Validate() error {
	for field := range t.SearchFields.StringArgs {
		if field == "" {
			return eris.New("ticket string arg has empty field name")
		}
	}
	for field := range t.SearchFields.DoubleArgs {
		if field == "" {
			return eris.New("ticket double arg has empty field name")
		}
	}
	for _, tag := range t.SearchFields.Tags {
		if tag == "" {
			return eris.New("ticket has empty tag")
		}
	}
	return nil
}
