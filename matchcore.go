package matchcore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/arenastack/matchcore/allocator"
	"github.com/arenastack/matchcore/statsd"
	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/telemetry"
	"github.com/arenastack/matchcore/types"
)

// Matchmaker wires the ticket store, match function, director and allocator
// together and exposes the operations players and game services call.
type Matchmaker struct {
	cfg Config
	tel telemetry.Telemetry
	log zerolog.Logger

	tickets     store.TicketStore
	profiles    *store.ProfileStore
	assignments *store.AssignmentStore
	matchFn     MatchFunction
	alloc       allocator.Allocator
	director    *Director

	redisClient *redis.Client
}

// New builds a matchmaker from the configuration. Options override the
// pieces the configuration would otherwise build.
func New(cfg Config, opts ...Option) (*Matchmaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid config")
	}

	m := &Matchmaker{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}

	if m.tel.Tracer == nil {
		tel, err := telemetry.New(context.Background(), cfg.TraceEnabled, telemetry.Options{
			ServiceName:     "matchcore",
			LogLevel:        cfg.LogLevel,
			LogPretty:       cfg.LogPretty,
			Endpoint:        cfg.TraceEndpoint,
			TraceSampleRate: cfg.TraceSampleRate,
		})
		if err != nil {
			return nil, eris.Wrap(err, "failed to initialize telemetry")
		}
		m.tel = tel
	}
	m.log = m.tel.GetLogger("core")

	metricTags := []string{"allocator:" + cfg.AllocatorMode}
	if cfg.StatsdAddress != "" {
		if err := statsd.Init(cfg.StatsdAddress, metricTags); err != nil {
			return nil, eris.Wrap(err, "unable to init statsd")
		}
	} else {
		m.log.Warn().Msg("statsd is disabled")
	}

	if m.tickets == nil {
		if cfg.RedisAddress != "" {
			m.redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddress,
				Password: cfg.RedisPassword,
			})
			m.tickets = store.NewRedisTicketStore(m.redisClient, "")
			m.log.Info().Str("address", cfg.RedisAddress).Msg("Using redis ticket store")
		} else {
			m.tickets = store.NewMemoryTicketStore()
			m.log.Info().Msg("Using in-memory ticket store")
		}
	}

	if m.profiles == nil {
		if cfg.ProfilesPath != "" {
			profiles, err := store.LoadProfilesFromFile(cfg.ProfilesPath)
			if err != nil {
				return nil, eris.Wrap(err, "failed to load match profiles")
			}
			m.profiles = profiles
			m.log.Info().Int("count", profiles.Count()).Str("path", cfg.ProfilesPath).Msg("Loaded match profiles")
		} else {
			m.profiles = store.NewProfileStore()
		}
	}

	if m.assignments == nil {
		m.assignments = store.NewAssignmentStore()
	}

	if m.matchFn == nil {
		m.matchFn = NewGreedyMatchFunction(
			m.tickets,
			m.tel.GetLogger("matchfunc"),
			cfg.ReservationTTL,
			cfg.MaxClaimAttempts,
		)
	}

	if m.alloc == nil {
		var err error
		m.alloc, err = newAllocator(cfg, m.tel.GetLogger("allocator"))
		if err != nil {
			return nil, eris.Wrap(err, "failed to build allocator")
		}
	}

	m.director = newDirector(
		cfg,
		m.tel,
		m.tickets, m.profiles, m.assignments,
		m.matchFn, m.alloc,
	)

	return m, nil
}

func newAllocator(cfg Config, logger zerolog.Logger) (allocator.Allocator, error) {
	switch cfg.AllocatorMode {
	case AllocatorModeStatic:
		return allocator.NewStaticAllocator(cfg.StaticAddresses)
	case AllocatorModeNATS:
		return allocator.NewNATSAllocator(cfg.NATSURL, cfg.NATSSubject, logger)
	default:
		return nil, eris.Errorf("unknown allocator mode %q", cfg.AllocatorMode)
	}
}

// Start runs the director loop until ctx is canceled.
func (m *Matchmaker) Start(ctx context.Context) error {
	return m.director.Run(ctx)
}

// Shutdown releases the matchmaker's connections.
func (m *Matchmaker) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down matchmaker")

	if c, ok := m.alloc.(interface{ Close() }); ok {
		c.Close()
	}
	if m.redisClient != nil {
		if err := m.redisClient.Close(); err != nil {
			m.log.Error().Err(err).Msg("Failed to close redis connection")
		}
	}
	if err := m.tel.Shutdown(ctx); err != nil {
		m.log.Error().Err(err).Msg("Telemetry shutdown error")
	}

	m.log.Info().Msg("Matchmaker shutdown complete")
	return nil
}

// Config returns the configuration the matchmaker was built with.
func (m *Matchmaker) Config() Config {
	return m.cfg
}

// Logger returns the service logger.
func (m *Matchmaker) Logger() zerolog.Logger {
	return m.tel.Logger
}

// Director returns the tick driver, mainly so operational tooling can read
// the tick counter or force a tick.
func (m *Matchmaker) Director() *Director {
	return m.director
}

// CreateTicket registers a new ticket and returns it with id, creation time
// and expiry filled in.
func (m *Matchmaker) CreateTicket(ctx context.Context, fields types.SearchFields, ext types.Extensions) (*types.Ticket, error) {
	now := time.Now()
	ticket := &types.Ticket{
		ID:           uuid.New().String(),
		SearchFields: fields,
		Extensions:   ext,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.TicketTTL),
		State:        types.TicketStatePending,
	}
	if err := ticket.Validate(); err != nil {
		return nil, err
	}
	if err := m.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	statsd.EmitTicketCreated()

	m.log.Debug().Str("ticket_id", ticket.ID).Msg("Created ticket")
	return ticket, nil
}

// Ticket returns the ticket's current state.
func (m *Matchmaker) Ticket(ctx context.Context, id string) (*types.Ticket, error) {
	return m.tickets.Get(ctx, id)
}

// Assignment returns the ticket's server assignment, or nil while the ticket
// is still waiting. Unknown tickets fail with ErrTicketNotFound.
func (m *Matchmaker) Assignment(ctx context.Context, ticketID string) (*types.Assignment, error) {
	if _, err := m.tickets.Get(ctx, ticketID); err != nil {
		return nil, err
	}
	return m.assignments.Get(ctx, ticketID)
}

// CancelTicket removes a ticket from matchmaking. Tickets held by a live
// proposal cannot be canceled (ErrTicketReserved); the caller should retry
// once the proposal resolves.
func (m *Matchmaker) CancelTicket(ctx context.Context, id string) error {
	if err := m.tickets.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.assignments.Delete(ctx, id); err != nil {
		return err
	}

	m.log.Debug().Str("ticket_id", id).Msg("Cancelled ticket")
	return nil
}

// RegisterProfile adds a match profile. The director picks it up on the next
// tick.
func (m *Matchmaker) RegisterProfile(profile *types.Profile) error {
	if err := m.profiles.Add(profile); err != nil {
		return err
	}

	m.log.Info().Str("profile", profile.Name).Int("pools", len(profile.Pools)).Msg("Registered match profile")
	return nil
}

// Profiles returns all registered profiles sorted by name.
func (m *Matchmaker) Profiles() []*types.Profile {
	return m.profiles.All()
}

// RunMatchFunction streams proposals for one profile outside the director
// loop. Emitted proposals hold reservations on their tickets; the caller owns
// assigning or releasing them.
func (m *Matchmaker) RunMatchFunction(ctx context.Context, profileName string) (<-chan *types.MatchProposal, error) {
	profile, ok := m.profiles.Get(profileName)
	if !ok {
		return nil, eris.Wrapf(store.ErrProfileNotFound, "profile %q", profileName)
	}
	return m.matchFn.MakeMatches(ctx, profile)
}

// Stats is a point-in-time snapshot of matchmaker state.
type Stats struct {
	Tick        uint64                    `json:"tick"`
	Profiles    int                       `json:"profiles"`
	Assignments int                       `json:"assignments"`
	Tickets     map[types.TicketState]int `json:"tickets"`
}

// Stats reports queue depths and the tick counter.
func (m *Matchmaker) Stats(ctx context.Context) (*Stats, error) {
	counts, err := m.tickets.Counts(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := m.assignments.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Tick:        m.director.CurrentTick(),
		Profiles:    m.profiles.Count(),
		Assignments: assignments,
		Tickets:     counts,
	}, nil
}
