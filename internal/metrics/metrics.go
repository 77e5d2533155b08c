package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	VotesAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "validation_votes_accepted_total",
			Help: "Total number of accepted validator votes",
		},
	)

	VotesRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "validation_votes_rejected_total",
			Help: "Total number of rejected validator votes",
		},
	)

	TasksResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_tasks_resolved_total",
			Help: "Total number of resolved validation tasks by outcome",
		},
		[]string{"outcome"},
	)

	ValidatorsSlashedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "validators_slashed_total",
			Help: "Total number of validators slashed",
		},
	)

	OrdersSettledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_settled_total",
			Help: "Total number of orders settled",
		},
	)

	OrdersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_expired_total",
			Help: "Total number of orders expired",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of background sweep passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(VotesAcceptedTotal)
	prometheus.MustRegister(VotesRejectedTotal)
	prometheus.MustRegister(TasksResolvedTotal)
	prometheus.MustRegister(ValidatorsSlashedTotal)
	prometheus.MustRegister(OrdersSettledTotal)
	prometheus.MustRegister(OrdersExpiredTotal)
	prometheus.MustRegister(SweepDuration)
}
