package matchcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arenastack/matchcore/types"
)

func fieldsWith(mmr float64, region string, tags ...string) types.SearchFields {
	return types.SearchFields{
		StringArgs: map[string]string{"region": region},
		DoubleArgs: map[string]float64{"mmr": mmr},
		Tags:       tags,
	}
}

func TestMatchesPool_AllFiltersMustPass(t *testing.T) {
	pool := types.Pool{
		Name:                "eu-bronze-ranked",
		StringEqualsFilters: []types.StringEqualsFilter{{Field: "region", Value: "eu"}},
		DoubleRangeFilters:  []types.DoubleRangeFilter{{Field: "mmr", Min: 0, Max: 1000}},
		TagPresentFilters:   []types.TagPresentFilter{{Tag: "ranked"}},
	}

	assert.True(t, MatchesPool(fieldsWith(500, "eu", "ranked"), pool))

	// One failing filter rejects the ticket
	assert.False(t, MatchesPool(fieldsWith(500, "na", "ranked"), pool))
	assert.False(t, MatchesPool(fieldsWith(1500, "eu", "ranked"), pool))
	assert.False(t, MatchesPool(fieldsWith(500, "eu", "casual"), pool))
}

func TestMatchesPool_RangeBoundsInclusive(t *testing.T) {
	pool := types.Pool{
		Name:               "bronze",
		DoubleRangeFilters: []types.DoubleRangeFilter{{Field: "mmr", Min: 100, Max: 200}},
	}

	assert.True(t, MatchesPool(fieldsWith(100, ""), pool))
	assert.True(t, MatchesPool(fieldsWith(200, ""), pool))
	assert.False(t, MatchesPool(fieldsWith(99.9, ""), pool))
	assert.False(t, MatchesPool(fieldsWith(200.1, ""), pool))
}

func TestMatchesPool_MissingFieldNeverMatches(t *testing.T) {
	pool := types.Pool{
		Name:               "bronze",
		DoubleRangeFilters: []types.DoubleRangeFilter{{Field: "mmr", Min: 0, Max: 9999}},
	}

	// No double args at all
	assert.False(t, MatchesPool(types.SearchFields{}, pool))

	// Double args present but without the filtered key
	fields := types.SearchFields{DoubleArgs: map[string]float64{"latency": 20}}
	assert.False(t, MatchesPool(fields, pool))
}

func TestMatchesPool_EmptyPoolMatchesEverything(t *testing.T) {
	pool := types.Pool{Name: "everyone"}

	assert.True(t, MatchesPool(types.SearchFields{}, pool))
	assert.True(t, MatchesPool(fieldsWith(42, "eu", "ranked"), pool))
}

func TestFilterTickets_PreservesOrder(t *testing.T) {
	pool := types.Pool{
		Name:              "ranked",
		TagPresentFilters: []types.TagPresentFilter{{Tag: "ranked"}},
	}

	base := time.Now()
	tickets := []*types.Ticket{
		{ID: "a", CreatedAt: base, SearchFields: types.SearchFields{Tags: []string{"ranked"}}},
		{ID: "b", CreatedAt: base.Add(time.Second), SearchFields: types.SearchFields{Tags: []string{"casual"}}},
		{ID: "c", CreatedAt: base.Add(2 * time.Second), SearchFields: types.SearchFields{Tags: []string{"ranked"}}},
	}

	matched := FilterTickets(pool, tickets)
	assert.Len(t, matched, 2)
	assert.Equal(t, "a", matched[0].ID)
	assert.Equal(t, "c", matched[1].ID)
}
