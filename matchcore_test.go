package matchcore

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/telemetry"
	"github.com/arenastack/matchcore/types"
)

func newTestMatchmaker(t *testing.T) *Matchmaker {
	t.Helper()
	m, err := New(DefaultConfig(), WithTelemetry(telemetry.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Shutdown(context.Background()))
	})
	return m
}

func TestMatchmaker_EndToEnd(t *testing.T) {
	ctx := context.Background()
	m := newTestMatchmaker(t)
	require.NoError(t, m.RegisterProfile(duelProfile(t)))

	t1, err := m.CreateTicket(ctx, types.SearchFields{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, t1.ID)
	assert.Equal(t, types.TicketStatePending, t1.State)
	assert.True(t, t1.ExpiresAt.After(t1.CreatedAt))

	t2, err := m.CreateTicket(ctx, types.SearchFields{}, nil)
	require.NoError(t, err)

	// Nobody is matched before the director has ticked.
	asg, err := m.Assignment(ctx, t1.ID)
	require.NoError(t, err)
	assert.Nil(t, asg)

	m.Director().Tick(ctx)

	for _, id := range []string{t1.ID, t2.ID} {
		ticket, err := m.Ticket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.TicketStateAssigned, ticket.State)

		asg, err := m.Assignment(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, asg)
		assert.Equal(t, "127.0.0.1:7777", asg.Connection)
	}

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Tick)
	assert.Equal(t, 1, stats.Profiles)
	assert.Equal(t, 2, stats.Assignments)
	assert.Equal(t, 2, stats.Tickets[types.TicketStateAssigned])
}

func TestMatchmaker_CancelTicket(t *testing.T) {
	ctx := context.Background()
	m := newTestMatchmaker(t)

	ticket, err := m.CreateTicket(ctx, types.SearchFields{}, nil)
	require.NoError(t, err)

	require.NoError(t, m.CancelTicket(ctx, ticket.ID))

	_, err = m.Ticket(ctx, ticket.ID)
	assert.True(t, eris.Is(eris.Cause(err), store.ErrTicketNotFound))
	_, err = m.Assignment(ctx, ticket.ID)
	assert.True(t, eris.Is(eris.Cause(err), store.ErrTicketNotFound))
}

func TestMatchmaker_CancelUnknownTicket(t *testing.T) {
	m := newTestMatchmaker(t)
	err := m.CancelTicket(context.Background(), "missing")
	assert.True(t, eris.Is(eris.Cause(err), store.ErrTicketNotFound))
}

func TestMatchmaker_CreateTicketValidates(t *testing.T) {
	m := newTestMatchmaker(t)
	_, err := m.CreateTicket(context.Background(), types.SearchFields{Tags: []string{""}}, nil)
	require.Error(t, err)
}

func TestMatchmaker_RegisterProfileRejectsDuplicates(t *testing.T) {
	m := newTestMatchmaker(t)
	require.NoError(t, m.RegisterProfile(duelProfile(t)))

	err := m.RegisterProfile(duelProfile(t))
	assert.True(t, eris.Is(eris.Cause(err), store.ErrProfileExists))
	assert.Len(t, m.Profiles(), 1)
}

func TestMatchmaker_RunMatchFunction(t *testing.T) {
	ctx := context.Background()
	m := newTestMatchmaker(t)
	require.NoError(t, m.RegisterProfile(duelProfile(t)))

	_, err := m.RunMatchFunction(ctx, "missing")
	assert.True(t, eris.Is(eris.Cause(err), store.ErrProfileNotFound))

	t1, err := m.CreateTicket(ctx, types.SearchFields{}, nil)
	require.NoError(t, err)
	t2, err := m.CreateTicket(ctx, types.SearchFields{}, nil)
	require.NoError(t, err)

	stream, err := m.RunMatchFunction(ctx, "duel")
	require.NoError(t, err)
	proposals := collectProposals(t, stream)
	require.Len(t, proposals, 1)
	assert.ElementsMatch(t, []string{t1.ID, t2.ID}, proposals[0].TicketIDs)

	// The caller owns the proposal's reservations.
	for _, id := range proposals[0].TicketIDs {
		ticket, err := m.Ticket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.TicketStateReserved, ticket.State)
	}
}

func TestMatchmaker_StartStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.TickTimeout = 20 * time.Millisecond
	m, err := New(cfg, WithTelemetry(telemetry.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Shutdown(context.Background()))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	require.Eventually(t, func() bool { return m.Director().CurrentTick() >= 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("matchmaker did not stop after cancel")
	}
}
