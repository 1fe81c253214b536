package probe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/store"
)

const metricsNamespace = "levelsim"

// Metrics exports simulation progress as prometheus metrics.
type Metrics struct {
	// Rounds counts the reaction rounds.
	Rounds prometheus.Counter

	// LevelReactions counts the reactions of each level.
	// Labels: level
	LevelReactions *prometheus.CounterVec

	// LevelAgents is the number of agents in each level at the last instant.
	// Labels: level
	LevelAgents *prometheus.GaugeVec

	// LevelBacklog is the number of pending influences of each level at the
	// last instant. Labels: level
	LevelBacklog *prometheus.GaugeVec

	// SimulationTime is the last observed instant.
	SimulationTime prometheus.Gauge

	// Runs counts finished runs. Labels: outcome
	Runs *prometheus.CounterVec
}

// NewMetrics registers the simulation metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Rounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_total",
			Help:      "Total number of reaction rounds",
		}),
		LevelReactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "level_reactions_total",
			Help:      "Total number of reactions by level",
		}, []string{"level"}),
		LevelAgents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "level_agents",
			Help:      "Agents present in each level",
		}, []string{"level"}),
		LevelBacklog: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "level_backlog",
			Help:      "Pending influences of each level",
		}, []string{"level"}),
		SimulationTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "simulation_time",
			Help:      "Last observed simulation instant",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Total number of finished runs by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) PrepareObservation() {}

func (m *Metrics) ObserveAtInitialTime(t clock.Time, sim engine.Observable) {
	m.observe(store.KindInitial, t, sim)
}

// ObserveAtPartialConsistentTime counts a round, and a reaction for every
// level published in its consistent state.
func (m *Metrics) ObserveAtPartialConsistentTime(t clock.Time, sim engine.Observable) {
	m.Rounds.Inc()
	for _, o := range m.observe(store.KindPartial, t, sim) {
		if o.Consistent {
			m.LevelReactions.WithLabelValues(string(o.Level)).Inc()
		}
	}
}

func (m *Metrics) ObserveAtFinalTime(t clock.Time, sim engine.Observable) {
	m.observe(store.KindFinal, t, sim)
	m.Runs.WithLabelValues(string(engine.OutcomeCompleted)).Inc()
}

func (m *Metrics) ReactToAbortion(clock.Time, engine.Observable) {
	m.Runs.WithLabelValues(string(engine.OutcomeAborted)).Inc()
}

func (m *Metrics) ReactToError(string, error) {
	m.Runs.WithLabelValues(string(engine.OutcomeFailed)).Inc()
}

func (m *Metrics) EndObservation() {}

func (m *Metrics) observe(kind store.ObservationKind, t clock.Time, sim engine.Observable) []store.Observation {
	if !t.IsInfinite() {
		m.SimulationTime.Set(float64(t))
	}

	obs := Snapshot("", kind, t, sim)
	for _, o := range obs {
		m.LevelAgents.WithLabelValues(string(o.Level)).Set(float64(o.Agents))
		m.LevelBacklog.WithLabelValues(string(o.Level)).Set(float64(o.Backlog))
	}
	return obs
}
