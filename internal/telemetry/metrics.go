package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики жизненного цикла шагов.
var (
	// StepClaims — успешные claims (ровно один на выполнение бизнес-логики).
	StepClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_step_claims_total",
		Help: "Successful step claims (each grants one business-logic execution)",
	})

	// StepClaimConflicts — проигранные claims (конкурентная доставка).
	StepClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_step_claim_conflicts_total",
		Help: "Claims lost to a concurrent delivery",
	})

	// StepOutcomes — исходы выполнения шагов по статусу.
	StepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_step_outcomes_total",
		Help: "Step execution outcomes by resulting status",
	}, []string{"status"})

	// EnqueueFailures — неудачные постановки следующего шага в очередь.
	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_enqueue_failures_total",
		Help: "Failed attempts to enqueue the successor step",
	})

	// RunsFinished — завершённые runs по статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_finished_total",
		Help: "Runs that reached a final status",
	}, []string{"status"})
)
