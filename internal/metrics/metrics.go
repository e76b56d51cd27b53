package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudguard_evaluations_enqueued_total",
		Help: "Total number of transaction evaluations placed on the work queue.",
	})

	EvaluationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudguard_evaluations_dropped_total",
		Help: "Total number of evaluations rejected due to a full queue.",
	})

	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_evaluations_total",
		Help: "Completed transaction evaluations, labelled by risk band and action.",
	}, []string{"band", "action"})

	EvaluationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_evaluation_errors_total",
		Help: "Failed evaluations, labelled by error kind.",
	}, []string{"kind"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraudguard_evaluation_duration_ms",
		Help:    "End-to-end evaluation latency in milliseconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraudguard_risk_score",
		Help:    "Distribution of assigned risk scores.",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	BoostsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_boosts_applied_total",
		Help: "Rule boosts that fired, labelled by rule id.",
	}, []string{"rule_id"})

	Monitored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudguard_monitored_approvals_total",
		Help: "Transactions approved with monitoring.",
	})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_otp_verifications_total",
		Help: "OTP verification attempts, labelled by result.",
	}, []string{"result"})

	Adjudications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_adjudications_total",
		Help: "Adjudicated pending transactions, labelled by decision and OTP verification.",
	}, []string{"decision", "verified"})

	LearnerUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_learner_updates_total",
		Help: "Online learner updates, labelled by trust source.",
	}, []string{"source"})

	PendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudguard_pending_entries",
		Help: "Transactions currently awaiting adjudication.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudguard_queue_utilization_ratio",
		Help: "Current evaluation queue utilization (0–1).",
	})

	PolicyReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_policy_reloads_total",
		Help: "Policy reload attempts, labelled by status.",
	}, []string{"status"})
)
