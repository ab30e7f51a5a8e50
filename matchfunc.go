package matchcore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/arenastack/matchcore/statsd"
	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/types"
)

// Scoring constants. A proposal starts at the base score and earns up to
// maxWaitBonus for average ticket wait time, so older tickets float to the
// front when allocations are scarce.
const (
	scoreBase          = 100.0
	maxWaitBonus       = 50.0
	waitBonusPerSecond = 10.0
)

// MatchFunction produces match proposals for a profile. The returned channel
// is a stream: proposals arrive as they are found and the channel closes
// when the function stops, either because the pending supply is exhausted or
// the context ended. Every ticket in an emitted proposal is already reserved
// under the proposal's match id.
type MatchFunction interface {
	MakeMatches(ctx context.Context, profile *types.Profile) (<-chan *types.MatchProposal, error)
}

// GreedyMatchFunction fills each pool of a profile with the oldest matching
// tickets. It keeps producing proposals until some pool cannot be filled.
// Lost claims (another profile grabbed a ticket first) are retried against a
// fresh snapshot a bounded number of times.
type GreedyMatchFunction struct {
	tickets          store.TicketStore
	log              zerolog.Logger
	reservationTTL   time.Duration
	maxClaimAttempts int

	startedAt time.Time
	seq       atomic.Uint64
}

var _ MatchFunction = (*GreedyMatchFunction)(nil)

// NewGreedyMatchFunction creates the default match function. reservationTTL
// bounds how long an emitted proposal may hold its tickets before the store
// reverts them; maxClaimAttempts bounds retries after lost claims.
func NewGreedyMatchFunction(
	tickets store.TicketStore,
	logger zerolog.Logger,
	reservationTTL time.Duration,
	maxClaimAttempts int,
) *GreedyMatchFunction {
	if reservationTTL <= 0 {
		reservationTTL = 30 * time.Second
	}
	if maxClaimAttempts < 1 {
		maxClaimAttempts = 3
	}
	return &GreedyMatchFunction{
		tickets:          tickets,
		log:              logger,
		reservationTTL:   reservationTTL,
		maxClaimAttempts: maxClaimAttempts,
		startedAt:        time.Now(),
	}
}

// MakeMatches streams proposals for the profile until supply or ctx runs out.
func (f *GreedyMatchFunction) MakeMatches(ctx context.Context, profile *types.Profile) (<-chan *types.MatchProposal, error) {
	if profile == nil {
		return nil, eris.New("profile is required")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	out := make(chan *types.MatchProposal)
	go f.run(ctx, profile, out)
	return out, nil
}

func (f *GreedyMatchFunction) run(ctx context.Context, profile *types.Profile, out chan<- *types.MatchProposal) {
	defer close(out)

	failedClaims := 0
	for ctx.Err() == nil {
		pending, err := f.tickets.Pending(ctx)
		if err != nil {
			f.log.Warn().Err(err).Str("profile", profile.Name).Msg("Pending query failed")
			return
		}

		picked := f.selectTickets(profile, pending)
		if picked == nil {
			// Some pool cannot be filled; done for this cycle.
			return
		}

		matchID := f.nextMatchID(profile.Name)
		now := time.Now()
		err = f.tickets.TryReserve(ctx, picked.ids, matchID, now.Add(f.reservationTTL))
		if err != nil {
			if !retriableClaimError(err) {
				f.log.Warn().Err(err).Str("profile", profile.Name).Msg("Claim failed")
				return
			}
			// Another proposal reached some ticket first. Requery and retry.
			statsd.EmitClaimRetry(profile.Name)
			failedClaims++
			if failedClaims >= f.maxClaimAttempts {
				f.log.Debug().
					Str("profile", profile.Name).
					Int("attempts", failedClaims).
					Msg("Giving up claims after repeated contention")
				return
			}
			continue
		}
		failedClaims = 0

		proposal := &types.MatchProposal{
			MatchID:     matchID,
			ProfileName: profile.Name,
			CreatedAt:   now,
			TicketIDs:   picked.ids,
			Teams:       picked.teams,
			Score:       scoreProposal(picked.tickets, now),
		}

		select {
		case out <- proposal:
		case <-ctx.Done():
			// Nobody will consume the proposal; hand the tickets back now
			// instead of waiting out the reservation deadline.
			if err := f.tickets.Release(context.Background(), picked.ids, matchID); err != nil {
				f.log.Warn().Err(err).Str("match_id", matchID).Msg("Failed to release orphaned proposal")
			}
			return
		}
	}
}

// pickedTickets is one proposal's worth of tickets: the flat id list in pool
// order plus the pool breakdown.
type pickedTickets struct {
	ids     []string
	teams   map[string][]string
	tickets []*types.Ticket
}

// selectTickets greedily fills each pool with the oldest matching tickets
// not already taken by an earlier pool of this proposal. Returns nil when
// any pool comes up short.
func (f *GreedyMatchFunction) selectTickets(profile *types.Profile, pending []*types.Ticket) *pickedTickets {
	need := profile.PlayersNeededPerPool()
	used := make(map[string]struct{}, profile.TicketsPerProposal())
	picked := &pickedTickets{
		teams: make(map[string][]string, len(profile.Pools)),
	}

	for _, pool := range profile.Pools {
		take := make([]string, 0, need)
		for _, t := range pending {
			if _, taken := used[t.ID]; taken {
				continue
			}
			if !MatchesPool(t.SearchFields, pool) {
				continue
			}
			used[t.ID] = struct{}{}
			take = append(take, t.ID)
			picked.tickets = append(picked.tickets, t)
			if len(take) == need {
				break
			}
		}
		if len(take) < need {
			return nil
		}
		picked.teams[pool.Name] = take
		picked.ids = append(picked.ids, take...)
	}
	return picked
}

func (f *GreedyMatchFunction) nextMatchID(profileName string) string {
	return fmt.Sprintf("%s-%d-%d", profileName, f.startedAt.UnixMilli(), f.seq.Add(1))
}

// retriableClaimError reports whether a failed claim is worth retrying with
// a fresh snapshot. Contention and vanished tickets are; everything else
// (store down, bad input) is not.
func retriableClaimError(err error) bool {
	cause := eris.Cause(err)
	return eris.Is(cause, store.ErrContention) || eris.Is(cause, store.ErrTicketNotFound)
}

// scoreProposal rates match quality by average ticket wait.
func scoreProposal(tickets []*types.Ticket, now time.Time) float64 {
	if len(tickets) == 0 {
		return scoreBase
	}
	var total time.Duration
	for _, t := range tickets {
		total += t.WaitTime(now)
	}
	avgSeconds := total.Seconds() / float64(len(tickets))
	bonus := waitBonusPerSecond * avgSeconds
	if bonus > maxWaitBonus {
		bonus = maxWaitBonus
	}
	if bonus < 0 {
		bonus = 0
	}
	return scoreBase + bonus
}
