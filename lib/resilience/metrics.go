package resilience

import (
	"github.com/arana198/mission-control-sub011/lib/metrics"
)

// Breaker metrics for Prometheus exposition.
var (
	// BreakersOpen tracks how many breakers are currently open.
	BreakersOpen = metrics.NewGauge(
		"gatewayd_breakers_open",
		"Number of gateway breakers currently open",
	)

	// BreakerTrips counts transitions into the open state.
	BreakerTrips = metrics.NewCounter(
		"gatewayd_breaker_trips_total",
		"Total number of times a breaker opened",
	)

	// BreakerSuccesses counts calls that completed through a breaker.
	BreakerSuccesses = metrics.NewCounter(
		"gatewayd_breaker_successes_total",
		"Total successful calls through breakers",
	)

	// BreakerFailures counts calls that failed through a breaker.
	BreakerFailures = metrics.NewCounter(
		"gatewayd_breaker_failures_total",
		"Total failed calls through breakers",
	)

	// BreakerRejections counts calls rejected by an open breaker.
	BreakerRejections = metrics.NewCounter(
		"gatewayd_breaker_rejections_total",
		"Total calls rejected by open breakers",
	)
)

// recordTransition keeps BreakersOpen in step with state changes.
func recordTransition(_ string, from, to State) {
	if to == StateOpen {
		BreakerTrips.Inc()
		BreakersOpen.Inc()
	}
	if from == StateOpen {
		BreakersOpen.Dec()
	}
}

// recordOutcome updates the call counters for the result of Execute.
func recordOutcome(err error) {
	switch {
	case err == nil:
		BreakerSuccesses.Inc()
	case err == ErrCircuitOpen:
		BreakerRejections.Inc()
	default:
		BreakerFailures.Inc()
	}
}
