package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenastack/matchcore/types"
)

func newTestTicket(id string, createdAt time.Time) *types.Ticket {
	return &types.Ticket{
		ID:        id,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Hour),
	}
}

func TestMemoryTicketStore_CreateAndGet(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))

	ticket, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", ticket.ID)
	assert.Equal(t, types.TicketStatePending, ticket.State)

	// Duplicate ids are rejected
	err = s.Create(ctx, newTestTicket("t1", now))
	require.Error(t, err)
	assert.True(t, eris.Is(eris.Cause(err), ErrTicketExists))

	_, err = s.Get(ctx, "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(eris.Cause(err), ErrTicketNotFound))
}

func TestMemoryTicketStore_PendingIsFIFO(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	base := time.Now()

	// Insert out of order; the pending snapshot must come back oldest first.
	require.NoError(t, s.Create(ctx, newTestTicket("c", base.Add(2*time.Second))))
	require.NoError(t, s.Create(ctx, newTestTicket("a", base)))
	require.NoError(t, s.Create(ctx, newTestTicket("d", base.Add(3*time.Second))))
	require.NoError(t, s.Create(ctx, newTestTicket("b", base.Add(time.Second))))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
	assert.Equal(t, "c", pending[2].ID)
	assert.Equal(t, "d", pending[3].ID)
}

func TestMemoryTicketStore_TryReserve(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()
	deadline := now.Add(30 * time.Second)

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))
	require.NoError(t, s.Create(ctx, newTestTicket("t2", now)))

	require.NoError(t, s.TryReserve(ctx, []string{"t1", "t2"}, "match-1", deadline))

	ticket, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStateReserved, ticket.State)
	assert.Equal(t, "match-1", ticket.ReservedBy)

	// Reserved tickets disappear from the pending snapshot
	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second claim over the same tickets fails with contention
	err = s.TryReserve(ctx, []string{"t1"}, "match-2", deadline)
	require.Error(t, err)
	assert.True(t, eris.Is(eris.Cause(err), ErrContention))
}

func TestMemoryTicketStore_TryReserveAllOrNothing(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()
	deadline := now.Add(30 * time.Second)

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))

	// t2 does not exist, so t1 must remain untouched
	err := s.TryReserve(ctx, []string{"t1", "t2"}, "match-1", deadline)
	require.Error(t, err)
	assert.True(t, eris.Is(eris.Cause(err), ErrTicketNotFound))

	ticket, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStatePending, ticket.State)
	assert.Empty(t, ticket.ReservedBy)
}

func TestMemoryTicketStore_TryReserveConcurrent(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()
	deadline := now.Add(30 * time.Second)

	const tickets = 20
	ids := make([]string, tickets)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i)
		require.NoError(t, s.Create(ctx, newTestTicket(ids[i], now.Add(time.Duration(i)*time.Millisecond))))
	}

	// Many goroutines race to claim overlapping pairs. Every ticket must end
	// up reserved by at most one owner.
	const claimers = 50
	var wg sync.WaitGroup
	wins := make([]bool, claimers)
	for c := 0; c < claimers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			pair := []string{ids[(c*2)%tickets], ids[(c*2+1)%tickets]}
			owner := fmt.Sprintf("match-%d", c)
			if err := s.TryReserve(ctx, pair, owner, deadline); err == nil {
				wins[c] = true
			}
		}(c)
	}
	wg.Wait()

	owners := make(map[string]string)
	for _, id := range ids {
		ticket, err := s.Get(ctx, id)
		require.NoError(t, err)
		if ticket.State == types.TicketStateReserved {
			_, taken := owners[id]
			require.False(t, taken, "ticket %s reserved twice", id)
			owners[id] = ticket.ReservedBy
		}
	}

	// Each winning claim holds exactly its two tickets
	winCount := 0
	for c, won := range wins {
		if !won {
			continue
		}
		winCount++
		owner := fmt.Sprintf("match-%d", c)
		held := 0
		for _, by := range owners {
			if by == owner {
				held++
			}
		}
		assert.Equal(t, 2, held, "owner %s", owner)
	}
	assert.Equal(t, tickets/2, winCount)
}

func TestMemoryTicketStore_Release(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	base := time.Now()
	deadline := base.Add(30 * time.Second)

	require.NoError(t, s.Create(ctx, newTestTicket("t1", base)))
	require.NoError(t, s.Create(ctx, newTestTicket("t2", base.Add(time.Second))))
	require.NoError(t, s.TryReserve(ctx, []string{"t1", "t2"}, "match-1", deadline))

	require.NoError(t, s.Release(ctx, []string{"t1", "t2"}, "match-1"))

	// Released tickets return to pending in creation order
	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "t1", pending[0].ID)
	assert.Empty(t, pending[0].ReservedBy)

	// Releasing again is a no-op
	require.NoError(t, s.Release(ctx, []string{"t1", "t2"}, "match-1"))
	pending, err = s.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestMemoryTicketStore_ReleaseWrongOwner(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))
	require.NoError(t, s.TryReserve(ctx, []string{"t1"}, "match-1", now.Add(time.Minute)))

	// A different owner cannot release the ticket
	require.NoError(t, s.Release(ctx, []string{"t1"}, "match-2"))

	ticket, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStateReserved, ticket.State)
	assert.Equal(t, "match-1", ticket.ReservedBy)
}

func TestMemoryTicketStore_Assign(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))
	require.NoError(t, s.Create(ctx, newTestTicket("t2", now)))
	require.NoError(t, s.TryReserve(ctx, []string{"t1", "t2"}, "match-1", now.Add(time.Minute)))

	require.NoError(t, s.Assign(ctx, []string{"t1", "t2"}, "match-1"))

	ticket, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStateAssigned, ticket.State)
	assert.False(t, ticket.AssignedAt.IsZero())
}

func TestMemoryTicketStore_AssignOwnerMismatch(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))
	require.NoError(t, s.TryReserve(ctx, []string{"t1"}, "match-1", now.Add(time.Minute)))

	err := s.Assign(ctx, []string{"t1"}, "match-2")
	require.Error(t, err)
	assert.True(t, eris.Is(eris.Cause(err), ErrOwnerMismatch))

	// Nothing changed
	ticket, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStateReserved, ticket.State)
}

func TestMemoryTicketStore_DeleteReservedConflict(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, newTestTicket("t1", now)))
	require.NoError(t, s.TryReserve(ctx, []string{"t1"}, "match-1", now.Add(time.Minute)))

	err := s.Delete(ctx, "t1")
	require.Error(t, err)
	assert.True(t, eris.Is(eris.Cause(err), ErrTicketReserved))

	// Released tickets delete fine
	require.NoError(t, s.Release(ctx, []string{"t1"}, "match-1"))
	require.NoError(t, s.Delete(ctx, "t1"))

	_, err = s.Get(ctx, "t1")
	require.Error(t, err)
}

func TestMemoryTicketStore_ExpireReservations(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.Create(ctx, newTestTicket("t1", base)))
	require.NoError(t, s.Create(ctx, newTestTicket("t2", base.Add(time.Second))))
	require.NoError(t, s.TryReserve(ctx, []string{"t1", "t2"}, "match-1", base.Add(10*time.Second)))

	// Before the deadline nothing happens
	n, err := s.ExpireReservations(ctx, base.Add(5*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	// After the deadline both tickets are pending again, FIFO intact
	n, err = s.ExpireReservations(ctx, base.Add(11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "t1", pending[0].ID)
	assert.Equal(t, types.TicketStatePending, pending[0].State)
}

func TestMemoryTicketStore_ExpireTickets(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	base := time.Now()

	old := newTestTicket("old", base.Add(-2*time.Hour))
	old.ExpiresAt = base.Add(-time.Hour)
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, newTestTicket("fresh", base)))

	n, err := s.ExpireTickets(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Expired tickets stay readable but leave the pending set
	ticket, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStateExpired, ticket.State)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].ID)
}

func TestMemoryTicketStore_Purge(t *testing.T) {
	s := NewMemoryTicketStore()
	ctx := context.Background()
	base := time.Now()

	expired := newTestTicket("expired", base.Add(-3*time.Hour))
	expired.ExpiresAt = base.Add(-2 * time.Hour)
	require.NoError(t, s.Create(ctx, expired))
	require.NoError(t, s.Create(ctx, newTestTicket("assigned", base)))
	require.NoError(t, s.Create(ctx, newTestTicket("keep", base)))

	_, err := s.ExpireTickets(ctx, base)
	require.NoError(t, err)

	require.NoError(t, s.TryReserve(ctx, []string{"assigned"}, "match-1", base.Add(time.Minute)))
	require.NoError(t, s.Assign(ctx, []string{"assigned"}, "match-1"))

	removed, err := s.Purge(ctx, base.Add(24*time.Hour), time.Minute)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"expired", "assigned"}, removed)

	// Pending tickets are never purged
	_, err = s.Get(ctx, "keep")
	require.NoError(t, err)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.TicketStatePending])
	assert.Zero(t, counts[types.TicketStateAssigned])
}
