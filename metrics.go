package so_arm_hold

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of one hold controller. A nil *Metrics records nothing.
type Metrics struct {
	violations       *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	rejectedCommands prometheus.Counter
	holdRequests     *prometheus.CounterVec
	mode             prometheus.Gauge
}

// NewMetrics registers the controller collectors on reg, labelled with the controller name.
func NewMetrics(reg prometheus.Registerer, controller string) *Metrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"controller": controller}, reg))
	return &Metrics{
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "so101_hold",
			Name:      "limit_violations_total",
			Help:      "Limit violations that triggered a stop, by monitor and joint.",
		}, []string{"monitor", "joint"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "so101_hold",
			Name:      "mode_transitions_total",
			Help:      "Accepted hold mode transitions.",
		}, []string{"from", "to"}),
		rejectedCommands: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "so101_hold",
			Name:      "rejected_commands_total",
			Help:      "Trajectory commands rejected while holding.",
		}),
		holdRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "so101_hold",
			Name:      "hold_requests_total",
			Help:      "Hold requests by result.",
		}, []string{"result"}),
		mode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "so101_hold",
			Name:      "mode",
			Help:      "Current hold mode (0 unhold, 1 stopping, 2 hold).",
		}),
	}
}

func (m *Metrics) violation(monitor, joint string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(monitor, joint).Inc()
}

func (m *Metrics) transition(from, to Mode) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.mode.Set(float64(to))
}

func (m *Metrics) rejectedCommand() {
	if m == nil {
		return
	}
	m.rejectedCommands.Inc()
}

func (m *Metrics) holdRequest(result string) {
	if m == nil {
		return
	}
	m.holdRequests.WithLabelValues(result).Inc()
}
