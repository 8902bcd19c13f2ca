package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects controller metrics
type PrometheusMetrics struct {
	// Counters
	decisions          *prometheus.CounterVec
	overrides          prometheus.Counter
	explorations       prometheus.Counter
	malformedReadings  prometheus.Counter
	droppedReadings    prometheus.Counter
	weatherFallbacks   prometheus.Counter
	persistenceFailure prometheus.Counter

	// Histograms
	reward        prometheus.Histogram
	cycleDuration prometheus.Histogram

	// Gauges
	explorationRate prometheus.Gauge
	qTableSize      prometheus.Gauge
	tankTemp        prometheus.Gauge

	startTime time.Time
}

// NewPrometheusMetrics registers the controller collectors with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "solarpump_decisions_total",
			Help: "Total number of pump decisions by effective action",
		}, []string{"action"}),
		overrides: factory.NewCounter(prometheus.CounterOpts{
			Name: "solarpump_guardrail_overrides_total",
			Help: "Total number of proposals reverted by the switching guardrail",
		}),
		explorations: factory.NewCounter(prometheus.CounterOpts{
			Name: "solarpump_explorations_total",
			Help: "Total number of randomly explored actions",
		}),
		malformedReadings: factory.NewCounter(prometheus.CounterOpts{
			Name: "solarpump_malformed_readings_total",
			Help: "Total number of sensor payloads that failed to parse",
		}),
		droppedReadings: factory.NewCounter(prometheus.CounterOpts{
			Name: "solarpump_dropped_readings_total",
			Help: "Total number of sensor payloads dropped because the queue was full",
		}),
		weatherFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "solarpump_weather_fallbacks_total",
			Help: "Total number of cycles run on the neutral weather context after a failed lookup",
		}),
		persistenceFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "solarpump_qtable_save_failures_total",
			Help: "Total number of failed Q-table saves",
		}),
		reward: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "solarpump_reward",
			Help:    "Distribution of per-cycle rewards",
			Buckets: []float64{-10, -5, -2, -1, -0.5, 0, 0.5, 1, 2, 5, 10, 20},
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "solarpump_cycle_duration_seconds",
			Help:    "Time spent handling one sensor reading",
			Buckets: prometheus.DefBuckets,
		}),
		explorationRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "solarpump_exploration_rate",
			Help: "Current epsilon of the policy",
		}),
		qTableSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "solarpump_qtable_states",
			Help: "Number of states in the Q-table",
		}),
		tankTemp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "solarpump_tank_temperature_celsius",
			Help: "Last reported tank temperature",
		}),
		startTime: time.Now(),
	}
}

// RecordDecision records one completed control cycle
func (m *PrometheusMetrics) RecordDecision(action string, explored, overridden bool, reward float64, duration time.Duration) {
	m.decisions.WithLabelValues(action).Inc()
	if explored {
		m.explorations.Inc()
	}
	if overridden {
		m.overrides.Inc()
	}
	m.reward.Observe(reward)
	m.cycleDuration.Observe(duration.Seconds())
}

// SetLearnerState updates the policy gauges
func (m *PrometheusMetrics) SetLearnerState(explorationRate float64, tableSize int) {
	m.explorationRate.Set(explorationRate)
	m.qTableSize.Set(float64(tableSize))
}

// SetTankTemp updates the tank temperature gauge
func (m *PrometheusMetrics) SetTankTemp(celsius float64) {
	m.tankTemp.Set(celsius)
}

// IncrementMalformedReadings counts a payload that failed to parse
func (m *PrometheusMetrics) IncrementMalformedReadings() {
	m.malformedReadings.Inc()
}

// IncrementDroppedReadings counts a payload rejected by a full queue
func (m *PrometheusMetrics) IncrementDroppedReadings() {
	m.droppedReadings.Inc()
}

// IncrementWeatherFallbacks counts a cycle that fell back after a failed weather lookup
func (m *PrometheusMetrics) IncrementWeatherFallbacks() {
	m.weatherFallbacks.Inc()
}

// IncrementPersistenceFailures counts a failed Q-table save
func (m *PrometheusMetrics) IncrementPersistenceFailures() {
	m.persistenceFailure.Inc()
}

// Uptime returns the time since the collectors were created
func (m *PrometheusMetrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
