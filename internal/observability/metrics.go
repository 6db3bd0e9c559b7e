package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TrainingMetrics exposes coarse training and generation counters. Updates
// happen at epoch and generate-call boundaries only, never inside the hot
// minibatch loop. A nil *TrainingMetrics is a no-op.
type TrainingMetrics struct {
	epochsCompleted   prometheus.Counter
	stepsCompleted    prometheus.Counter
	rowsGenerated     prometheus.Counter
	generatorLoss     prometheus.Gauge
	discriminatorLoss prometheus.Gauge
	epsilonConsumed   prometheus.Gauge
}

// NewTrainingMetrics registers training metrics on the given registerer.
func NewTrainingMetrics(reg prometheus.Registerer) *TrainingMetrics {
	m := &TrainingMetrics{
		epochsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabsynth",
			Name:      "training_epochs_completed_total",
			Help:      "Number of completed training epochs.",
		}),
		stepsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabsynth",
			Name:      "training_steps_completed_total",
			Help:      "Number of completed minibatch steps.",
		}),
		rowsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabsynth",
			Name:      "rows_generated_total",
			Help:      "Number of synthetic rows generated.",
		}),
		generatorLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tabsynth",
			Name:      "generator_loss",
			Help:      "Generator loss at the end of the last epoch.",
		}),
		discriminatorLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tabsynth",
			Name:      "discriminator_loss",
			Help:      "Discriminator loss at the end of the last epoch.",
		}),
		epsilonConsumed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tabsynth",
			Name:      "privacy_epsilon_consumed",
			Help:      "Cumulative privacy budget (epsilon) consumed.",
		}),
	}

	reg.MustRegister(
		m.epochsCompleted,
		m.stepsCompleted,
		m.rowsGenerated,
		m.generatorLoss,
		m.discriminatorLoss,
		m.epsilonConsumed,
	)
	return m
}

// ObserveEpoch records the completion of one epoch.
func (m *TrainingMetrics) ObserveEpoch(steps int, generatorLoss, discriminatorLoss float64) {
	if m == nil {
		return
	}
	m.epochsCompleted.Inc()
	m.stepsCompleted.Add(float64(steps))
	m.generatorLoss.Set(generatorLoss)
	m.discriminatorLoss.Set(discriminatorLoss)
}

// ObserveGeneratedRows records synthetic rows produced by a generate call.
func (m *TrainingMetrics) ObserveGeneratedRows(n int) {
	if m == nil {
		return
	}
	m.rowsGenerated.Add(float64(n))
}

// ObserveEpsilonConsumed records cumulative privacy budget consumption.
func (m *TrainingMetrics) ObserveEpsilonConsumed(epsilon float64) {
	if m == nil {
		return
	}
	m.epsilonConsumed.Set(epsilon)
}
