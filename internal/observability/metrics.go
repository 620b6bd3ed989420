package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GateCollector bundles Prometheus metrics for the connectivity gate. It
// implements the recorder interfaces the core package accepts, so one value
// can be handed to the network, the frequency lists and the connectivity
// service.
type GateCollector struct {
	gatherer prometheus.Gatherer

	LinkDecisions  *prometheus.CounterVec
	AntennaChanges *prometheus.CounterVec
	PassDurations  prometheus.Histogram

	ScenarioNodes          prometheus.Gauge
	ScenarioConstellations prometheus.Gauge
}

// NewGateCollector registers gate metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewGateCollector(reg prometheus.Registerer) (*GateCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commnet_link_decisions_total",
		Help: "Connectivity filter decisions, labeled by outcome and deny reason.",
	}, []string{"decision", "reason"})
	decisions, err := registerCounterVec(reg, decisions, "commnet_link_decisions_total")
	if err != nil {
		return nil, err
	}

	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commnet_antenna_changes_total",
		Help: "Antenna change notifications handled, labeled by the list policy in effect.",
	}, []string{"policy"})
	changes, err = registerCounterVec(reg, changes, "commnet_antenna_changes_total")
	if err != nil {
		return nil, err
	}

	passes, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "commnet_pass_duration_seconds",
		Help:    "Wall-clock duration of one connectivity pass.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "commnet_pass_duration_seconds")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "commnet_nodes",
		Help: "Current number of nodes joined to the comm network.",
	}), "commnet_nodes")
	if err != nil {
		return nil, err
	}
	constellations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "commnet_constellations",
		Help: "Current number of named constellations.",
	}), "commnet_constellations")
	if err != nil {
		return nil, err
	}

	return &GateCollector{
		gatherer:               gatherer,
		LinkDecisions:          decisions,
		AntennaChanges:         changes,
		PassDurations:          passes,
		ScenarioNodes:          nodes,
		ScenarioConstellations: constellations,
	}, nil
}

// LinkDecision counts one filter evaluation.
func (c *GateCollector) LinkDecision(allowed bool, reason string) {
	if c == nil || c.LinkDecisions == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	c.LinkDecisions.WithLabelValues(decision, reason).Inc()
}

// AntennaChanged counts one antenna change notification.
func (c *GateCollector) AntennaChanged(policy string) {
	if c == nil || c.AntennaChanges == nil {
		return
	}
	c.AntennaChanges.WithLabelValues(policy).Inc()
}

// ObservePass records the duration of a connectivity pass.
func (c *GateCollector) ObservePass(d time.Duration) {
	if c == nil || c.PassDurations == nil {
		return
	}
	c.PassDurations.Observe(d.Seconds())
}

// SetScenarioCounts lets the scenario state drive gauge values directly from
// its mutators.
func (c *GateCollector) SetScenarioCounts(nodes, constellations int) {
	if c == nil {
		return
	}
	if c.ScenarioNodes != nil {
		c.ScenarioNodes.Set(float64(nodes))
	}
	if c.ScenarioConstellations != nil {
		c.ScenarioConstellations.Set(float64(constellations))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GateCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
