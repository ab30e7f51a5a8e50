package matchcore

import (
	"context"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/arenastack/matchcore/allocator"
	"github.com/arenastack/matchcore/statsd"
	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/telemetry"
	"github.com/arenastack/matchcore/types"
)

// Director drives the matchmaking cycle. Every TickInterval it sweeps stale
// state out of the ticket store, runs the match function once per registered
// profile, and resolves the resulting proposals against the allocator. Ticks
// never overlap: all profile workers finish before the next tick starts.
type Director struct {
	cfg Config
	tel telemetry.Telemetry

	// log is the base component logger for messages outside any span. Work
	// inside a tick derives its logger from the span context instead.
	log zerolog.Logger

	tickets     store.TicketStore
	profiles    *store.ProfileStore
	assignments *store.AssignmentStore
	matchFn     MatchFunction
	alloc       allocator.Allocator

	tick    atomic.Uint64
	running atomic.Bool
}

func newDirector(
	cfg Config,
	tel telemetry.Telemetry,
	tickets store.TicketStore,
	profiles *store.ProfileStore,
	assignments *store.AssignmentStore,
	matchFn MatchFunction,
	alloc allocator.Allocator,
) *Director {
	return &Director{
		cfg:         cfg,
		tel:         tel,
		log:         tel.GetLogger("director"),
		tickets:     tickets,
		profiles:    profiles,
		assignments: assignments,
		matchFn:     matchFn,
		alloc:       alloc,
	}
}

// CurrentTick returns the number of ticks started so far. Ticks are
// synchronous, so between ticks this equals the number completed.
func (d *Director) CurrentTick() uint64 {
	return d.tick.Load()
}

// IsRunning reports whether the tick loop is active.
func (d *Director) IsRunning() bool {
	return d.running.Load()
}

// Run ticks at the configured interval until ctx is canceled. It returns an
// error only when called while already running.
func (d *Director) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return eris.New("director is already running")
	}
	defer d.running.Store(false)

	d.log.Info().Dur("interval", d.cfg.TickInterval).Msg("Director started")
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Uint64("ticks", d.CurrentTick()).Msg("Director stopped")
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one full matchmaking cycle: sweep, then every profile
// concurrently. It blocks until every profile worker has finished.
func (d *Director) Tick(ctx context.Context) {
	startTime := time.Now()
	tick := d.tick.Add(1)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.TickTimeout)
	defer cancel()

	ctx, span := d.tel.Tracer.Start(ctx, "director.tick")
	defer span.End()

	log := d.tel.GetLoggerWithTrace(ctx, "director")

	d.sweep(ctx, startTime)

	profiles := d.profiles.All()
	if len(profiles) > 0 {
		profileStart := time.Now()
		g := new(errgroup.Group)
		for _, profile := range profiles {
			g.Go(func() error {
				d.runProfile(ctx, profile)
				return nil
			})
		}
		_ = g.Wait()
		statsd.EmitTickStat(profileStart, "profiles")
	}

	statsd.EmitTickStat(startTime, "full")
	log.Debug().
		Uint64("tick", tick).
		Int("profiles", len(profiles)).
		Dur("duration", time.Since(startTime)).
		Msg("Tick finished")
}

// sweep reverts lapsed reservations, expires old tickets and purges
// tombstones so the pending queue only holds live work.
func (d *Director) sweep(ctx context.Context, now time.Time) {
	sweepStart := time.Now()
	log := d.tel.GetLoggerWithTrace(ctx, "director")

	reverted, err := d.tickets.ExpireReservations(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to expire reservations")
	} else if reverted > 0 {
		log.Debug().Int("count", reverted).Msg("Reverted lapsed reservations")
	}

	expired, err := d.tickets.ExpireTickets(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to expire tickets")
	} else if expired > 0 {
		log.Debug().Int("count", expired).Msg("Expired tickets")
	}

	removed, err := d.tickets.Purge(ctx, now, d.cfg.PurgeGrace)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to purge tickets")
	} else if len(removed) > 0 {
		if err := d.assignments.Delete(ctx, removed...); err != nil {
			log.Warn().Err(err).Msg("Failed to drop purged assignments")
		}
		log.Debug().Int("count", len(removed)).Msg("Purged tickets")
	}

	if counts, err := d.tickets.Counts(ctx); err == nil {
		statsd.EmitGauge("tickets.pending", float64(counts[types.TicketStatePending]))
	}

	statsd.EmitTickStat(sweepStart, "sweep")
}

// runProfile generates proposals for one profile and resolves them in score
// order. A panicking match function is contained here so one broken profile
// cannot take down the tick.
func (d *Director) runProfile(ctx context.Context, profile *types.Profile) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("profile", profile.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Match function panicked")
		}
	}()

	ctx, span := d.tel.Tracer.Start(ctx, "director.profile")
	defer span.End()

	log := d.tel.GetLoggerWithTrace(ctx, "director").With().Str("profile", profile.Name).Logger()

	startTime := time.Now()

	mmCtx, cancel := context.WithTimeout(ctx, d.cfg.MatchTimeout)
	defer cancel()

	stream, err := d.matchFn.MakeMatches(mmCtx, profile)
	if err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		span.RecordError(err)
		log.Warn().Err(err).Msg("Match function failed to start")
		return
	}

	var proposals []*types.MatchProposal
	for proposal := range stream {
		proposals = append(proposals, proposal)
	}
	if len(proposals) == 0 {
		return
	}

	// Highest quality first; allocation capacity goes to the best proposals.
	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].Score != proposals[j].Score {
			return proposals[i].Score > proposals[j].Score
		}
		return proposals[i].MatchID < proposals[j].MatchID
	})

	assigned := 0
	for _, proposal := range proposals {
		if d.resolveProposal(ctx, proposal, profile) {
			assigned++
		}
	}

	log.Debug().
		Int("proposals", len(proposals)).
		Int("assigned", assigned).
		Dur("duration", time.Since(startTime)).
		Msg("Profile processed")
}

// resolveProposal allocates a server for the proposal, then either assigns
// the tickets or returns them to the queue. Reports whether the match went
// out.
func (d *Director) resolveProposal(ctx context.Context, proposal *types.MatchProposal, profile *types.Profile) bool {
	actx, cancel := context.WithTimeout(ctx, d.cfg.AllocateTimeout)
	defer cancel()

	actx, span := d.tel.Tracer.Start(actx, "director.allocate")
	defer span.End()

	log := d.tel.GetLoggerWithTrace(actx, "director").With().
		Str("profile", profile.Name).
		Str("match_id", proposal.MatchID).
		Logger()

	assignment, err := d.alloc.Allocate(actx, allocator.Request{
		MatchID:     proposal.MatchID,
		GameMode:    profile.GameMode(),
		PlayerCount: proposal.TicketCount(),
	})
	if err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		span.RecordError(err)
		statsd.EmitMatchStat(profile.Name, "allocation_failed")
		log.Warn().Err(err).Msg("Allocation failed, releasing tickets")
		d.releaseProposal(log, proposal)
		return false
	}

	// A successful allocation must not be stranded by the tick deadline, so
	// the writes below run on their own context.
	wctx, wcancel := context.WithTimeout(context.Background(), d.cfg.AllocateTimeout)
	defer wcancel()

	if err := d.tickets.Assign(wctx, proposal.TicketIDs, proposal.MatchID); err != nil {
		// The reservation lapsed mid-tick and the tickets are back in play.
		// The allocated server goes unused; there is nothing to roll back.
		statsd.EmitMatchStat(profile.Name, "assign_failed")
		log.Error().Err(err).Msg("Reservation lost before assignment")
		return false
	}

	for _, id := range proposal.TicketIDs {
		if err := d.assignments.Set(wctx, id, assignment); err != nil {
			log.Error().Err(err).
				Str("ticket_id", id).
				Msg("Failed to record assignment")
		}
	}

	statsd.EmitMatchStat(profile.Name, "assigned")
	log.Info().
		Int("players", proposal.TicketCount()).
		Float64("score", proposal.Score).
		Str("connection", assignment.Connection).
		Msg("Match assigned")

	return true
}

// releaseProposal returns a failed proposal's tickets to the pending queue.
// It runs on a fresh context: the tick deadline must not leave tickets
// stranded in reserved until the reservation TTL catches them.
func (d *Director) releaseProposal(log zerolog.Logger, proposal *types.MatchProposal) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.AllocateTimeout)
	defer cancel()

	if err := d.tickets.Release(ctx, proposal.TicketIDs, proposal.MatchID); err != nil {
		log.Warn().Err(err).Msg("Failed to release proposal tickets")
	}
}
