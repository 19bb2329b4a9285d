package metricsvc

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/masomo-pkl/core/placement"
)

// PrometheusCollector counts placement activity, server side and in the engine.
type PrometheusCollector struct {
	assignments *prometheus.CounterVec // result: created, deleted, rejected
	rejections  *prometheus.CounterVec // reason
	moves       *prometheus.CounterVec // stage: applied, confirmed
	failures    *prometheus.CounterVec // op
	resyncs     *prometheus.CounterVec // ok
}

var (
	_ placement.ServiceMetrics = (*PrometheusCollector)(nil)
	_ placement.EngineMetrics  = (*PrometheusCollector)(nil)
)

// NewPrometheus registers the collectors on reg (prometheus.DefaultRegisterer if nil).
// namespace defaults to "masomo".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "masomo"
	}

	c := &PrometheusCollector{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "assignments_total",
			Help:      "Assignment requests handled by the placement service, by result.",
		}, []string{"result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "assignment_rejections_total",
			Help:      "Rejected assignment requests, by reason.",
		}, []string{"reason"}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "moves_total",
			Help:      "Optimistic board moves, by stage.",
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "mutation_failures_total",
			Help:      "Board mutations rejected or failed remotely, by operation.",
		}, []string{"op"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "resyncs_total",
			Help:      "Board reloads following a failed mutation, by outcome.",
		}, []string{"ok"}),
	}

	for _, col := range []prometheus.Collector{c.assignments, c.rejections, c.moves, c.failures, c.resyncs} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *PrometheusCollector) AssignmentCreated() {
	c.assignments.WithLabelValues("created").Inc()
}

func (c *PrometheusCollector) AssignmentRejected(reason string) {
	c.assignments.WithLabelValues("rejected").Inc()
	c.rejections.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) AssignmentDeleted() {
	c.assignments.WithLabelValues("deleted").Inc()
}

func (c *PrometheusCollector) MoveApplied()             { c.moves.WithLabelValues("applied").Inc() }
func (c *PrometheusCollector) MoveConfirmed()           { c.moves.WithLabelValues("confirmed").Inc() }
func (c *PrometheusCollector) MutationFailed(op string) { c.failures.WithLabelValues(op).Inc() }

func (c *PrometheusCollector) Resynced(ok bool) {
	c.resyncs.WithLabelValues(strconv.FormatBool(ok)).Inc()
}
