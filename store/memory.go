package store

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore/types"
)

// MemoryTicketStore is a mutex-guarded in-memory TicketStore. All state
// transitions happen under one lock, which makes TryReserve trivially
// all-or-nothing.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*types.Ticket

	// pending is kept sorted by CreatedAt (ties broken by id) so queries
	// see tickets oldest first without re-sorting.
	pending []*types.Ticket
}

var _ TicketStore = (*MemoryTicketStore)(nil)

// NewMemoryTicketStore creates an empty in-memory ticket store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{
		tickets: make(map[string]*types.Ticket),
	}
}

// Create stores a new pending ticket.
func (s *MemoryTicketStore) Create(_ context.Context, ticket *types.Ticket) error {
	if ticket.ID == "" {
		return eris.New("ticket id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[ticket.ID]; exists {
		return eris.Wrapf(ErrTicketExists, "ticket %q", ticket.ID)
	}

	t := cloneTicket(ticket)
	t.State = types.TicketStatePending
	s.tickets[t.ID] = t
	s.pending = insertTicketSorted(s.pending, t)
	return nil
}

// Get retrieves a copy of a ticket by id.
func (s *MemoryTicketStore) Get(_ context.Context, id string) (*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, eris.Wrapf(ErrTicketNotFound, "ticket %q", id)
	}
	return cloneTicket(ticket), nil
}

// Pending returns a snapshot of pending tickets, oldest first.
func (s *MemoryTicketStore) Pending(_ context.Context) ([]*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Ticket, len(s.pending))
	for i, t := range s.pending {
		result[i] = cloneTicket(t)
	}
	return result, nil
}

// TryReserve atomically flips every listed ticket from pending to reserved
// under owner, or changes nothing.
func (s *MemoryTicketStore) TryReserve(_ context.Context, ids []string, owner string, deadline time.Time) error {
	if len(ids) == 0 {
		return eris.New("no ticket ids to reserve")
	}
	if owner == "" {
		return eris.New("reservation owner is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Verify the whole claim before touching anything.
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return eris.Errorf("duplicate ticket id %q in claim", id)
		}
		seen[id] = struct{}{}

		ticket, ok := s.tickets[id]
		if !ok {
			return eris.Wrapf(ErrTicketNotFound, "ticket %q", id)
		}
		if ticket.State != types.TicketStatePending {
			return eris.Wrapf(ErrContention, "ticket %q is %s", id, ticket.State)
		}
	}

	for _, id := range ids {
		ticket := s.tickets[id]
		ticket.State = types.TicketStateReserved
		ticket.ReservedBy = owner
		ticket.ReservationDeadline = deadline
		s.pending = removeTicketByID(s.pending, id)
	}
	return nil
}

// Release returns owner's reserved tickets to the pending set. Ids that are
// missing or no longer held by owner are skipped.
func (s *MemoryTicketStore) Release(_ context.Context, ids []string, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		ticket, ok := s.tickets[id]
		if !ok || ticket.State != types.TicketStateReserved || ticket.ReservedBy != owner {
			continue
		}
		s.revertToPending(ticket)
	}
	return nil
}

// Assign flips every listed ticket from reserved-by-owner to assigned, or
// changes nothing.
func (s *MemoryTicketStore) Assign(_ context.Context, ids []string, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		ticket, ok := s.tickets[id]
		if !ok {
			return eris.Wrapf(ErrTicketNotFound, "ticket %q", id)
		}
		if ticket.State != types.TicketStateReserved || ticket.ReservedBy != owner {
			return eris.Wrapf(ErrOwnerMismatch, "ticket %q is %s (held by %q)", id, ticket.State, ticket.ReservedBy)
		}
	}

	now := time.Now()
	for _, id := range ids {
		ticket := s.tickets[id]
		ticket.State = types.TicketStateAssigned
		ticket.AssignedAt = now
	}
	return nil
}

// Delete removes a ticket unless a live proposal holds it.
func (s *MemoryTicketStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return eris.Wrapf(ErrTicketNotFound, "ticket %q", id)
	}
	if ticket.State == types.TicketStateReserved {
		return eris.Wrapf(ErrTicketReserved, "ticket %q is held by %q", id, ticket.ReservedBy)
	}

	s.deleteUnlocked(id)
	return nil
}

// ExpireReservations reverts reservations whose deadline passed.
func (s *MemoryTicketStore) ExpireReservations(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, ticket := range s.tickets {
		if ticket.State == types.TicketStateReserved && now.After(ticket.ReservationDeadline) {
			s.revertToPending(ticket)
			count++
		}
	}
	return count, nil
}

// ExpireTickets marks pending tickets past their expiry as expired.
func (s *MemoryTicketStore) ExpireTickets(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, ticket := range s.tickets {
		if ticket.State == types.TicketStatePending && ticket.IsExpired(now) {
			ticket.State = types.TicketStateExpired
			s.pending = removeTicketByID(s.pending, ticket.ID)
			count++
		}
	}
	return count, nil
}

// Purge deletes expired tickets and assigned tickets older than grace.
func (s *MemoryTicketStore) Purge(_ context.Context, now time.Time, grace time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, ticket := range s.tickets {
		switch ticket.State {
		case types.TicketStateExpired:
			if now.After(ticket.ExpiresAt.Add(grace)) {
				removed = append(removed, id)
			}
		case types.TicketStateAssigned:
			if now.After(ticket.AssignedAt.Add(grace)) {
				removed = append(removed, id)
			}
		}
	}

	for _, id := range removed {
		s.deleteUnlocked(id)
	}
	return removed, nil
}

// Counts reports how many tickets are in each state.
func (s *MemoryTicketStore) Counts(_ context.Context) (map[types.TicketState]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.TicketState]int, 4)
	for _, ticket := range s.tickets {
		counts[ticket.State]++
	}
	return counts, nil
}

// revertToPending clears reservation bookkeeping and restores the ticket's
// position in the pending index. Caller must hold the lock.
func (s *MemoryTicketStore) revertToPending(ticket *types.Ticket) {
	ticket.State = types.TicketStatePending
	ticket.ReservedBy = ""
	ticket.ReservationDeadline = time.Time{}
	s.pending = insertTicketSorted(s.pending, ticket)
}

// deleteUnlocked removes a ticket without acquiring the lock (caller must hold lock).
func (s *MemoryTicketStore) deleteUnlocked(id string) {
	ticket, ok := s.tickets[id]
	if !ok {
		return
	}
	delete(s.tickets, id)
	if ticket.State == types.TicketStatePending {
		s.pending = removeTicketByID(s.pending, id)
	}
}

func cloneTicket(t *types.Ticket) *types.Ticket {
	c := *t
	return &c
}

// insertTicketSorted inserts into a slice ordered by CreatedAt, breaking
// ties by id so the order is deterministic.
func insertTicketSorted(tickets []*types.Ticket, ticket *types.Ticket) []*types.Ticket {
	// Find insertion point using binary search
	i := 0
	j := len(tickets)
	for i < j {
		mid := (i + j) / 2
		if before(tickets[mid], ticket) {
			i = mid + 1
		} else {
			j = mid
		}
	}

	// Insert at position i
	tickets = append(tickets, nil)
	copy(tickets[i+1:], tickets[i:])
	tickets[i] = ticket
	return tickets
}

func before(a, b *types.Ticket) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// removeTicketByID removes a ticket from a slice by id.
func removeTicketByID(tickets []*types.Ticket, id string) []*types.Ticket {
	for i, t := range tickets {
		if t.ID == id {
			return append(tickets[:i], tickets[i+1:]...)
		}
	}
	return tickets
}
