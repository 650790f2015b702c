package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics for the scenario store, the XML
// export path and the remote simulator client.
type Collector struct {
	gatherer prometheus.Gatherer

	ScenarioNodes       prometheus.Gauge
	ScenarioDevices     prometheus.Gauge
	ScenarioConnections prometheus.Gauge
	ScenarioRegisters   prometheus.Gauge

	Commits         *prometheus.CounterVec
	Exports         *prometheus.CounterVec
	ExportDurations prometheus.Histogram

	RemoteRequests  *prometheus.CounterVec
	RemoteDurations *prometheus.HistogramVec
	StatusEvents    *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice against the same registry
// reuses the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.ScenarioNodes, "scenario_nodes", "Current number of nodes in the scenario."},
		{&c.ScenarioDevices, "scenario_devices", "Current number of devices across all nodes."},
		{&c.ScenarioConnections, "scenario_connections", "Current number of connections in the scenario."},
		{&c.ScenarioRegisters, "scenario_registers", "Current number of tracer registrations in the scenario."},
	}
	for _, g := range gauges {
		*g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
	}

	c.Commits, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_commits_total",
		Help: "Scenario commit attempts, labeled by section and result.",
	}, []string{"section", "result"}), "scenario_commits_total")
	if err != nil {
		return nil, err
	}

	c.Exports, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_exports_total",
		Help: "XML projections of the scenario, labeled by result.",
	}, []string{"result"}), "scenario_exports_total")
	if err != nil {
		return nil, err
	}

	c.ExportDurations, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenario_export_duration_seconds",
		Help:    "Time spent projecting the scenario to XML.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}), "scenario_export_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.RemoteRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_requests_total",
		Help: "Requests sent to the simulation server, labeled by route and HTTP status code.",
	}, []string{"route", "code"}), "remote_requests_total")
	if err != nil {
		return nil, err
	}

	c.RemoteDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_request_duration_seconds",
		Help:    "Simulation server request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"}), "remote_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.StatusEvents, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_status_events_total",
		Help: "Status events received from the simulation server, labeled by status.",
	}, []string{"status"}), "remote_status_events_total")
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetScenarioCounts satisfies the store's metrics recorder so gauges track
// every committed change.
func (c *Collector) SetScenarioCounts(nodes, devices, connections, registers int) {
	if c == nil {
		return
	}
	setGauge(c.ScenarioNodes, nodes)
	setGauge(c.ScenarioDevices, devices)
	setGauge(c.ScenarioConnections, connections)
	setGauge(c.ScenarioRegisters, registers)
}

// ObserveCommit counts one commit attempt.
func (c *Collector) ObserveCommit(section string, err error) {
	if c == nil || c.Commits == nil {
		return
	}
	c.Commits.WithLabelValues(section, result(err)).Inc()
}

// ObserveExport counts one XML projection and its duration.
func (c *Collector) ObserveExport(d time.Duration, err error) {
	if c == nil {
		return
	}
	if c.Exports != nil {
		c.Exports.WithLabelValues(result(err)).Inc()
	}
	if c.ExportDurations != nil {
		c.ExportDurations.Observe(d.Seconds())
	}
}

// ObserveRequest records one call to the simulation server. code is the
// HTTP status, or 0 when no response was received.
func (c *Collector) ObserveRequest(route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	if c.RemoteRequests != nil {
		c.RemoteRequests.WithLabelValues(route, label).Inc()
	}
	if c.RemoteDurations != nil {
		c.RemoteDurations.WithLabelValues(route).Observe(d.Seconds())
	}
}

// ObserveStatusEvent counts one inbound status event.
func (c *Collector) ObserveStatusEvent(status string) {
	if c == nil || c.StatusEvents == nil {
		return
	}
	c.StatusEvents.WithLabelValues(status).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func setGauge(g prometheus.Gauge, v int) {
	if g != nil {
		g.Set(float64(v))
	}
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

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
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
