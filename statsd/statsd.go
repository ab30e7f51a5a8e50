// Package statsd is a helper package that wraps some common statsd methods.
// It hides the datadog dependency so if we decide to migrate away from datadog in the future, we only need to
// edit this single file. For example, the https://pkg.go.dev/github.com/cactus/go-statsd-client/statsd package roughly
// implements datadog's ClientInterface interface.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// EmitTickStat records how long a director tick stage took. Stage is one of
// "sweep", "profiles" or "full".
func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	err := Client().Timing("tick", duration, []string{stage}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

// EmitMatchStat counts resolved proposals per profile. Outcome is "assigned",
// "allocation_failed" or "assign_failed".
func EmitMatchStat(profile, outcome string) {
	err := Client().Incr("match", []string{"profile:" + profile, "outcome:" + outcome}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit match stat: %v", err)
	}
}

// EmitTicketCreated counts tickets accepted into the pool.
func EmitTicketCreated() {
	err := Client().Incr("ticket_created", nil, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit ticket stat: %v", err)
	}
}

// EmitClaimRetry counts reservation attempts lost to a concurrent claimer.
func EmitClaimRetry(profile string) {
	err := Client().Incr("claim_retry", []string{"profile:" + profile}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit claim retry stat: %v", err)
	}
}

// EmitGauge reports a point-in-time value such as the pending ticket count.
func EmitGauge(name string, value float64) {
	err := Client().Gauge(name, value, nil, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit %s gauge: %v", name, err)
	}
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("matchcore"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return err
	}
	// Success! replace the global client
	client = newClient
	return nil
}
