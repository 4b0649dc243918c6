// Package metrics registers the engine's prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the scheduler's observability counters.
type Metrics struct {
	SweepsTotal      prometheus.Counter
	SweepDuration    prometheus.Histogram
	GroupsSkipped    prometheus.Counter
	RoundsClosed     prometheus.Counter
	RoundsDefaulted  prometheus.Counter
	PayoutsAttempted prometheus.Counter
	PayoutsFailed    prometheus.Counter
	PenaltiesApplied prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_sweeps_total",
			Help: "Number of scheduler sweeps started.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tontine_sweep_duration_seconds",
			Help:    "Wall time of a full scheduler sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		GroupsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_sweep_groups_skipped_total",
			Help: "Groups skipped in a sweep due to errors or timeout.",
		}),
		RoundsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_rounds_closed_total",
			Help: "Rounds marked complete by the scheduler.",
		}),
		RoundsDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_rounds_defaulted_total",
			Help: "Rounds marked defaulted after the grace period.",
		}),
		PayoutsAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_payouts_attempted_total",
			Help: "Payout transfers attempted.",
		}),
		PayoutsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_payouts_failed_total",
			Help: "Payout transfers that returned an error.",
		}),
		PenaltiesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tontine_penalties_applied_total",
			Help: "Contributions penalized by sweeps.",
		}),
	}
	reg.MustRegister(
		m.SweepsTotal, m.SweepDuration, m.GroupsSkipped,
		m.RoundsClosed, m.RoundsDefaulted,
		m.PayoutsAttempted, m.PayoutsFailed, m.PenaltiesApplied,
	)
	return m
}
