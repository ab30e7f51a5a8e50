// Package store provides ticket, profile and assignment storage for the
// matchmaking core. Two ticket store implementations ship: an in-memory
// store for single-process deployments and tests, and a Redis-backed store
// for deployments that need tickets to survive restarts.
package store

import (
	"context"
	"time"

	"github.com/arenastack/matchcore/types"
)

// TicketStore holds every live ticket and owns all state transitions.
// TryReserve is the linchpin: it must be atomic and all-or-nothing so that
// no ticket is ever part of two concurrent proposals.
type TicketStore interface {
	// Create stores a new pending ticket. The caller sets id, timestamps
	// and search fields.
	Create(ctx context.Context, ticket *types.Ticket) error

	// Get returns a copy of the ticket, or ErrTicketNotFound.
	Get(ctx context.Context, id string) (*types.Ticket, error)

	// Pending returns a snapshot of pending tickets ordered by creation
	// time, oldest first.
	Pending(ctx context.Context) ([]*types.Ticket, error)

	// TryReserve flips every listed ticket from pending to reserved under
	// owner, or changes nothing. A missing ticket fails with
	// ErrTicketNotFound, a non-pending one with ErrContention.
	TryReserve(ctx context.Context, ids []string, owner string, deadline time.Time) error

	// Release returns tickets reserved by owner to the pending set. Ids no
	// longer held by owner are skipped, so releasing twice is harmless.
	Release(ctx context.Context, ids []string, owner string) error

	// Assign flips every listed ticket from reserved-by-owner to assigned,
	// or changes nothing (ErrOwnerMismatch).
	Assign(ctx context.Context, ids []string, owner string) error

	// Delete removes a ticket. Reserved tickets cannot be deleted
	// (ErrTicketReserved); they belong to a live proposal.
	Delete(ctx context.Context, id string) error

	// ExpireReservations returns tickets whose reservation deadline passed
	// to the pending set and reports how many were reverted.
	ExpireReservations(ctx context.Context, now time.Time) (int, error)

	// ExpireTickets marks pending tickets past their expiry as expired,
	// removing them from query results, and reports how many were marked.
	ExpireTickets(ctx context.Context, now time.Time) (int, error)

	// Purge deletes expired tickets and assigned tickets older than grace,
	// returning the removed ids so callers can drop their assignments.
	Purge(ctx context.Context, now time.Time, grace time.Duration) ([]string, error)

	// Counts reports how many tickets are in each state.
	Counts(ctx context.Context) (map[types.TicketState]int, error)
}
