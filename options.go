package matchcore

import (
	"github.com/arenastack/matchcore/allocator"
	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/telemetry"
)

// Option augments how the Matchmaker is built. Options win over what the
// configuration would have built.
type Option func(*Matchmaker)

// WithTelemetry injects a pre-built telemetry, e.g. telemetry.Nop() in tests.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(m *Matchmaker) {
		m.tel = tel
	}
}

// WithTicketStore replaces the configured ticket store.
func WithTicketStore(s store.TicketStore) Option {
	return func(m *Matchmaker) {
		m.tickets = s
	}
}

// WithProfiles replaces the profile registry, e.g. one pre-loaded from JSON.
func WithProfiles(s *store.ProfileStore) Option {
	return func(m *Matchmaker) {
		m.profiles = s
	}
}

// WithAllocator replaces the configured allocator.
func WithAllocator(a allocator.Allocator) Option {
	return func(m *Matchmaker) {
		m.alloc = a
	}
}

// WithMatchFunction replaces the built-in greedy match function.
func WithMatchFunction(f MatchFunction) Option {
	return func(m *Matchmaker) {
		m.matchFn = f
	}
}
