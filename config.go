package matchcore

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// Allocator modes selectable via MATCHCORE_ALLOCATOR.
const (
	AllocatorModeStatic = "static"
	AllocatorModeNATS   = "nats"
)

// Config holds environment-based configuration for the matchmaking core.
type Config struct {
	// LogLevel is a zerolog level name (trace, debug, info, warn, error).
	LogLevel string `env:"MATCHCORE_LOG_LEVEL" envDefault:"info"`

	// LogPretty switches from JSON logs to a human-readable console writer.
	LogPretty bool `env:"MATCHCORE_LOG_PRETTY" envDefault:"false"`

	// Port is the HTTP listen port for the frontend API.
	Port string `env:"MATCHCORE_PORT" envDefault:"7070"`

	// RedisAddress selects the redis-backed ticket store. Empty runs on the
	// in-memory store, which only suits a single-process deployment.
	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`

	// ProfilesPath is the path to a JSON file of match profiles registered
	// at startup. Profiles can also be registered over the API.
	ProfilesPath string `env:"MATCHCORE_PROFILES_PATH" envDefault:""`

	// TickInterval is how often the director runs. TickTimeout bounds one
	// whole tick and must leave headroom below the interval.
	TickInterval time.Duration `env:"MATCHCORE_TICK_INTERVAL" envDefault:"5s"`
	TickTimeout  time.Duration `env:"MATCHCORE_TICK_TIMEOUT" envDefault:"4s"`

	// MatchTimeout bounds the match function run for a single profile.
	MatchTimeout time.Duration `env:"MATCHCORE_MATCH_TIMEOUT" envDefault:"3s"`

	// AllocateTimeout bounds a single server allocation request.
	AllocateTimeout time.Duration `env:"MATCHCORE_ALLOCATE_TIMEOUT" envDefault:"2s"`

	// ReservationTTL is how long a proposal may hold tickets before the
	// reservation lapses and the tickets return to the pending queue.
	ReservationTTL time.Duration `env:"MATCHCORE_RESERVATION_TTL" envDefault:"30s"`

	// TicketTTL is the default time-to-live for tickets.
	TicketTTL time.Duration `env:"MATCHCORE_TICKET_TTL" envDefault:"5m"`

	// PurgeGrace is how long expired and assigned tickets stay readable
	// before the sweep removes them and their assignments.
	PurgeGrace time.Duration `env:"MATCHCORE_PURGE_GRACE" envDefault:"2m"`

	// MaxClaimAttempts caps consecutive lost ticket claims before the match
	// function gives up for the tick.
	MaxClaimAttempts int `env:"MATCHCORE_MAX_CLAIM_ATTEMPTS" envDefault:"3"`

	// AllocatorMode picks the allocator backend: "static" or "nats".
	AllocatorMode string `env:"MATCHCORE_ALLOCATOR" envDefault:"static"`

	// StaticAddresses feed the static allocator.
	StaticAddresses []string `env:"MATCHCORE_STATIC_ADDRESSES" envDefault:"127.0.0.1:7777" envSeparator:","`

	// NATSURL and NATSSubject configure the NATS allocator.
	NATSURL     string `env:"NATS_URL" envDefault:"nats://nats:4222"`
	NATSSubject string `env:"MATCHCORE_ALLOCATION_SUBJECT" envDefault:"fleet.allocate"`

	// StatsdAddress enables metrics when set.
	StatsdAddress string `env:"STATSD_ADDRESS" envDefault:""`

	// TraceEnabled turns on OTLP trace export to TraceEndpoint.
	TraceEnabled    bool    `env:"MATCHCORE_TRACE_ENABLED" envDefault:"false"`
	TraceEndpoint   string  `env:"MATCHCORE_TRACE_ENDPOINT" envDefault:"localhost:4317"`
	TraceSampleRate float64 `env:"MATCHCORE_TRACE_SAMPLE_RATE" envDefault:"0.6"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, eris.Wrap(err, "failed to parse matchcore config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		Port:             "7070",
		TickInterval:     5 * time.Second,
		TickTimeout:      4 * time.Second,
		MatchTimeout:     3 * time.Second,
		AllocateTimeout:  2 * time.Second,
		ReservationTTL:   30 * time.Second,
		TicketTTL:        5 * time.Minute,
		PurgeGrace:       2 * time.Minute,
		MaxClaimAttempts: 3,
		AllocatorMode:    AllocatorModeStatic,
		StaticAddresses:  []string{"127.0.0.1:7777"},
		NATSURL:          "nats://nats:4222",
		NATSSubject:      "fleet.allocate",
		TraceEndpoint:    "localhost:4317",
		TraceSampleRate:  0.6,
	}
}

// Validate returns an error if the configuration is unusable.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return eris.New("tick interval must be positive")
	}
	if c.TickTimeout <= 0 || c.TickTimeout > c.TickInterval {
		return eris.New("tick timeout must be positive and no longer than the tick interval")
	}
	if c.MatchTimeout <= 0 {
		return eris.New("match timeout must be positive")
	}
	if c.AllocateTimeout <= 0 {
		return eris.New("allocate timeout must be positive")
	}
	if c.ReservationTTL <= 0 {
		return eris.New("reservation TTL must be positive")
	}
	if c.TicketTTL <= 0 {
		return eris.New("ticket TTL must be positive")
	}
	if c.PurgeGrace < 0 {
		return eris.New("purge grace must not be negative")
	}
	if c.MaxClaimAttempts < 1 {
		return eris.New("max claim attempts must be at least 1")
	}
	switch c.AllocatorMode {
	case AllocatorModeStatic:
		if len(c.StaticAddresses) == 0 {
			return eris.New("static allocator needs at least one address")
		}
	case AllocatorModeNATS:
		if c.NATSURL == "" {
			return eris.New("NATS allocator needs a URL")
		}
		if c.NATSSubject == "" {
			return eris.New("NATS allocator needs a subject")
		}
	default:
		return eris.Errorf("unknown allocator mode %q", c.AllocatorMode)
	}
	if c.TraceEnabled && c.TraceEndpoint == "" {
		return eris.New("trace endpoint is required when tracing is enabled")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return eris.New("trace sample rate must be within [0, 1]")
	}
	return nil
}
