// Package allocator acquires game server capacity for approved match
// proposals. The director hands every proposal that survived scoring to an
// Allocator and only assigns tickets once the allocator returned a
// connection.
package allocator

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore/types"
)

// Request describes the match a server is needed for.
type Request struct {
	// MatchID is the proposal identifier, unique per director run.
	MatchID string `json:"match_id"`
	// GameMode names the kind of session the server should host.
	GameMode string `json:"game_mode"`
	// PlayerCount is the total number of tickets in the match.
	PlayerCount int `json:"player_count"`
}

// Allocator reserves a game server for a match and returns the assignment
// players should connect to. Implementations must be safe for concurrent use;
// the director allocates from one goroutine per profile.
type Allocator interface {
	Allocate(ctx context.Context, req Request) (*types.Assignment, error)
}

// StaticAllocator hands out connection strings from a fixed address list in
// round-robin order. It never runs out of capacity, which makes it the
// default for local development and tests.
type StaticAllocator struct {
	addresses []string
	next      atomic.Uint64
}

var _ Allocator = (*StaticAllocator)(nil)

// NewStaticAllocator builds an allocator over the given addresses.
func NewStaticAllocator(addresses []string) (*StaticAllocator, error) {
	if len(addresses) == 0 {
		return nil, eris.New("static allocator needs at least one address")
	}
	addrs := make([]string, len(addresses))
	copy(addrs, addresses)
	return &StaticAllocator{addresses: addrs}, nil
}

// Allocate returns the next address in the rotation.
func (a *StaticAllocator) Allocate(ctx context.Context, _ Request) (*types.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "allocation aborted")
	}
	n := a.next.Add(1) - 1
	addr := a.addresses[n%uint64(len(a.addresses))]
	return &types.Assignment{Connection: addr}, nil
}
