// Package matchcore implements a matchmaking core for online games: players
// submit tickets, registered match profiles describe what a match looks
// like, and a director loop turns compatible tickets into match proposals,
// allocates servers for them and hands connections back to the tickets.
package matchcore

import (
	"github.com/arenastack/matchcore/types"
)

// Pool queries are pure functions over a pending-ticket snapshot. They never
// mutate anything; claiming tickets is strictly the ticket store's job.

// MatchesPool checks if a ticket's search fields pass all filters of a pool.
// A ticket belongs to a pool only if ALL filters match (AND logic).
func MatchesPool(fields types.SearchFields, pool types.Pool) bool {
	for _, filter := range pool.StringEqualsFilters {
		if !passesStringEqualsFilter(fields, filter) {
			return false
		}
	}

	for _, filter := range pool.DoubleRangeFilters {
		if !passesDoubleRangeFilter(fields, filter) {
			return false
		}
	}

	for _, filter := range pool.TagPresentFilters {
		if !passesTagPresentFilter(fields, filter) {
			return false
		}
	}

	return true
}

// FilterTickets returns the tickets that belong to the pool, preserving the
// input order so FIFO snapshots stay FIFO.
func FilterTickets(pool types.Pool, tickets []*types.Ticket) []*types.Ticket {
	matched := make([]*types.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if MatchesPool(t.SearchFields, pool) {
			matched = append(matched, t)
		}
	}
	return matched
}

// passesStringEqualsFilter checks if the field equals the expected value.
func passesStringEqualsFilter(fields types.SearchFields, filter types.StringEqualsFilter) bool {
	if fields.StringArgs == nil {
		return false
	}
	value, exists := fields.StringArgs[filter.Field]
	if !exists {
		return false
	}
	return value == filter.Value
}

// passesDoubleRangeFilter checks if the field is within [min, max].
// A ticket without the field never matches.
func passesDoubleRangeFilter(fields types.SearchFields, filter types.DoubleRangeFilter) bool {
	if fields.DoubleArgs == nil {
		return false
	}
	value, exists := fields.DoubleArgs[filter.Field]
	if !exists {
		return false
	}
	return value >= filter.Min && value <= filter.Max
}

// passesTagPresentFilter checks if the tag is present.
func passesTagPresentFilter(fields types.SearchFields, filter types.TagPresentFilter) bool {
	for _, tag := range fields.Tags {
		if tag == filter.Tag {
			return true
		}
	}
	return false
}
