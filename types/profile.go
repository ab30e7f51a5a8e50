package types

import (
	"github.com/rotisserie/eris"
)

// Extension keys the core itself understands. Everything else in a profile's
// Extensions is passed through untouched.
const (
	// ExtensionPlayersPerPool is the number of tickets a proposal takes from
	// each pool. Defaults to 1 when absent.
	ExtensionPlayersPerPool = "players_needed_per_pool"

	// ExtensionGameMode names the game mode requested from the allocator.
	ExtensionGameMode = "game_mode"
)

// Profile describes a match shape: a named, ordered set of pools plus
// game-mode parameters carried as extensions.
type Profile struct {
	Name       string     `json:"name"`
	Pools      []Pool     `json:"pools"`
	Extensions Extensions `json:"extensions,omitempty"`
}

// Pool defines filtering criteria to categorize tickets.
// A ticket belongs to a pool only if every filter passes.
type Pool struct {
	Name                string               `json:"name"`
	StringEqualsFilters []StringEqualsFilter `json:"string_equals_filters,omitempty"`
	DoubleRangeFilters  []DoubleRangeFilter  `json:"double_range_filters,omitempty"`
	TagPresentFilters   []TagPresentFilter   `json:"tag_present_filters,omitempty"`
}

// StringEqualsFilter matches when a field exactly equals a value.
type StringEqualsFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// DoubleRangeFilter matches when a field is within a range [min, max].
// A ticket without the field does not match.
type DoubleRangeFilter struct {
	Field string  `json:"field"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// TagPresentFilter matches when a tag is present in the tags list.
type TagPresentFilter struct {
	Tag string `json:"tag"`
}

// PlayersNeededPerPool returns how many tickets each pool contributes to a
// proposal, read from extensions. Defaults to 1.
func (p *Profile) PlayersNeededPerPool() int {
	n := p.Extensions.Int(ExtensionPlayersPerPool, 1)
	if n < 1 {
		return 1
	}
	return n
}

// GameMode returns the game mode passed to the allocator. Defaults to the
// profile name.
func (p *Profile) GameMode() string {
	return p.Extensions.String(ExtensionGameMode, p.Name)
}

// TicketsPerProposal returns the total ticket count a single proposal from
// this profile reserves.
func (p *Profile) TicketsPerProposal() int {
	return len(p.Pools) * p.PlayersNeededPerPool()
}

// Validate checks the profile is usable for matchmaking.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return eris.New("profile name is required")
	}
	if len(p.Pools) == 0 {
		return eris.Errorf("profile %q must have at least one pool", p.Name)
	}
	seen := make(map[string]struct{}, len(p.Pools))
	for _, pool := range p.Pools {
		if pool.Name == "" {
			return eris.Errorf("profile %q has a pool with no name", p.Name)
		}
		if _, ok := seen[pool.Name]; ok {
			return eris.Errorf("profile %q has duplicate pool %q", p.Name, pool.Name)
		}
		seen[pool.Name] = struct{}{}
		if err := pool.validate(); err != nil {
			return eris.Wrapf(err, "profile %q pool %q is invalid", p.Name, pool.Name)
		}
	}
	return nil
}

func (p *Pool) validate() error {
	for _, f := range p.StringEqualsFilters {
		if f.Field == "" {
			return eris.New("string equals filter has empty field")
		}
	}
	for _, f := range p.DoubleRangeFilters {
		if f.Field == "" {
			return eris.New("double range filter has empty field")
		}
		if f.Min > f.Max {
			return eris.Errorf("double range filter on %q has min %v greater than max %v", f.Field, f.Min, f.Max)
		}
	}
	for _, f := range p.TagPresentFilters {
		if f.Tag == "" {
			return eris.New("tag present filter has empty tag")
		}
	}
	return nil
}
