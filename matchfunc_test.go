package matchcore

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/types"
)

func duelProfile(t *testing.T) *types.Profile {
	t.Helper()
	return &types.Profile{
		Name:  "duel",
		Pools: []types.Pool{{Name: "side-a"}, {Name: "side-b"}},
	}
}

func addPendingTicket(t *testing.T, s store.TicketStore, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &types.Ticket{
		ID:        id,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Hour),
	}))
}

func collectProposals(t *testing.T, ch <-chan *types.MatchProposal) []*types.MatchProposal {
	t.Helper()
	var proposals []*types.MatchProposal
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return proposals
			}
			proposals = append(proposals, p)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for proposals")
		}
	}
}

func TestGreedyMatchFunction_FIFOPairs(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	base := time.Now().Add(-time.Minute)

	// Four tickets created in order A, B, C, D
	addPendingTicket(t, s, "A", base)
	addPendingTicket(t, s, "B", base.Add(time.Second))
	addPendingTicket(t, s, "C", base.Add(2*time.Second))
	addPendingTicket(t, s, "D", base.Add(3*time.Second))

	ch, err := f.MakeMatches(context.Background(), duelProfile(t))
	require.NoError(t, err)
	proposals := collectProposals(t, ch)

	// Oldest pair first, then the next pair
	require.Len(t, proposals, 2)
	assert.Equal(t, []string{"A", "B"}, proposals[0].TicketIDs)
	assert.Equal(t, []string{"C", "D"}, proposals[1].TicketIDs)

	// Both proposals filled both pools without reusing a ticket
	assert.Equal(t, []string{"A"}, proposals[0].Teams["side-a"])
	assert.Equal(t, []string{"B"}, proposals[0].Teams["side-b"])
	assert.NotEqual(t, proposals[0].MatchID, proposals[1].MatchID)

	// Every emitted ticket is reserved under its proposal's match id
	for _, p := range proposals {
		for _, id := range p.TicketIDs {
			ticket, err := s.Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, types.TicketStateReserved, ticket.State)
			assert.Equal(t, p.MatchID, ticket.ReservedBy)
		}
	}
}

func TestGreedyMatchFunction_UnderSupply(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)

	profile := &types.Profile{
		Name:  "2v2",
		Pools: []types.Pool{{Name: "all"}},
	}
	require.NoError(t, profile.Extensions.Set(types.ExtensionPlayersPerPool, 2))

	// One pending ticket cannot fill a two-ticket pool
	addPendingTicket(t, s, "lonely", time.Now())

	ch, err := f.MakeMatches(context.Background(), profile)
	require.NoError(t, err)
	proposals := collectProposals(t, ch)
	assert.Empty(t, proposals)

	// The lonely ticket is untouched
	ticket, err := s.Get(context.Background(), "lonely")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStatePending, ticket.State)
}

func TestGreedyMatchFunction_Score(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	now := time.Now()

	// Both tickets waited ~2s: score 100 + 10*2
	addPendingTicket(t, s, "A", now.Add(-2*time.Second))
	addPendingTicket(t, s, "B", now.Add(-2*time.Second))

	ch, err := f.MakeMatches(context.Background(), duelProfile(t))
	require.NoError(t, err)
	proposals := collectProposals(t, ch)
	require.Len(t, proposals, 1)
	assert.InDelta(t, 120.0, proposals[0].Score, 1.0)
}

func TestGreedyMatchFunction_ScoreCapped(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	now := time.Now()

	// Very old tickets cap the wait bonus at 50
	addPendingTicket(t, s, "A", now.Add(-time.Hour))
	addPendingTicket(t, s, "B", now.Add(-time.Hour))

	ch, err := f.MakeMatches(context.Background(), duelProfile(t))
	require.NoError(t, err)
	proposals := collectProposals(t, ch)
	require.Len(t, proposals, 1)
	assert.InDelta(t, 150.0, proposals[0].Score, 0.001)
}

func TestGreedyMatchFunction_PoolFilters(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	now := time.Now()

	profile := &types.Profile{
		Name: "bronze-duel",
		Pools: []types.Pool{
			{
				Name:               "bronze-a",
				DoubleRangeFilters: []types.DoubleRangeFilter{{Field: "mmr", Min: 0, Max: 1000}},
			},
			{
				Name:               "bronze-b",
				DoubleRangeFilters: []types.DoubleRangeFilter{{Field: "mmr", Min: 0, Max: 1000}},
			},
		},
	}

	require.NoError(t, s.Create(context.Background(), &types.Ticket{
		ID: "bronze1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		SearchFields: types.SearchFields{DoubleArgs: map[string]float64{"mmr": 400}},
	}))
	require.NoError(t, s.Create(context.Background(), &types.Ticket{
		ID: "gold1", CreatedAt: now.Add(time.Millisecond), ExpiresAt: now.Add(time.Hour),
		SearchFields: types.SearchFields{DoubleArgs: map[string]float64{"mmr": 2400}},
	}))
	require.NoError(t, s.Create(context.Background(), &types.Ticket{
		ID: "bronze2", CreatedAt: now.Add(2 * time.Millisecond), ExpiresAt: now.Add(time.Hour),
		SearchFields: types.SearchFields{DoubleArgs: map[string]float64{"mmr": 700}},
	}))

	ch, err := f.MakeMatches(context.Background(), profile)
	require.NoError(t, err)
	proposals := collectProposals(t, ch)

	// Only the two bronze tickets pair up; the gold ticket stays pending
	require.Len(t, proposals, 1)
	assert.ElementsMatch(t, []string{"bronze1", "bronze2"}, proposals[0].TicketIDs)

	ticket, err := s.Get(context.Background(), "gold1")
	require.NoError(t, err)
	assert.Equal(t, types.TicketStatePending, ticket.State)
}

// contentionStore fails the first n claims with contention to exercise the
// retry path.
type contentionStore struct {
	store.TicketStore
	failures int
	attempts int
}

func (c *contentionStore) TryReserve(ctx context.Context, ids []string, owner string, deadline time.Time) error {
	c.attempts++
	if c.attempts <= c.failures {
		return eris.Wrap(store.ErrContention, "simulated concurrent claim")
	}
	return c.TicketStore.TryReserve(ctx, ids, owner, deadline)
}

func TestGreedyMatchFunction_RetriesLostClaims(t *testing.T) {
	mem := store.NewMemoryTicketStore()
	s := &contentionStore{TicketStore: mem, failures: 2}
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	now := time.Now()

	addPendingTicket(t, mem, "A", now)
	addPendingTicket(t, mem, "B", now.Add(time.Millisecond))

	ch, err := f.MakeMatches(context.Background(), duelProfile(t))
	require.NoError(t, err)
	proposals := collectProposals(t, ch)

	// Two lost claims, then success on the third attempt
	require.Len(t, proposals, 1)
	assert.Equal(t, 3, s.attempts)
}

func TestGreedyMatchFunction_BoundedRetries(t *testing.T) {
	mem := store.NewMemoryTicketStore()
	s := &contentionStore{TicketStore: mem, failures: 100}
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	now := time.Now()

	addPendingTicket(t, mem, "A", now)
	addPendingTicket(t, mem, "B", now.Add(time.Millisecond))

	ch, err := f.MakeMatches(context.Background(), duelProfile(t))
	require.NoError(t, err)
	proposals := collectProposals(t, ch)

	// The function gives up after maxClaimAttempts instead of spinning
	assert.Empty(t, proposals)
	assert.Equal(t, 3, s.attempts)
}

func TestGreedyMatchFunction_ContextCancel(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)
	now := time.Now()

	addPendingTicket(t, s, "A", now)
	addPendingTicket(t, s, "B", now.Add(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.MakeMatches(ctx, duelProfile(t))
	require.NoError(t, err)

	// Never consume the stream; with no receiver the function blocks on
	// emit until the cancel lands, then releases the orphaned proposal.
	cancel()

	require.Eventually(t, func() bool {
		ticket, err := s.Get(context.Background(), "A")
		if err != nil {
			return false
		}
		return ticket.State == types.TicketStatePending
	}, 5*time.Second, 10*time.Millisecond)

	// The stream closes without ever emitting
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("stream never closed after cancel")
	}
}

func TestGreedyMatchFunction_InvalidProfile(t *testing.T) {
	s := store.NewMemoryTicketStore()
	f := NewGreedyMatchFunction(s, zerolog.Nop(), time.Minute, 3)

	_, err := f.MakeMatches(context.Background(), &types.Profile{Name: "no-pools"})
	require.Error(t, err)

	_, err = f.MakeMatches(context.Background(), nil)
	require.Error(t, err)
}
