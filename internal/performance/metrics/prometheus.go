package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes an Engine to Prometheus.
//
// Trends and counters are created lazily while a run is in progress, so the
// collector is unchecked: Describe yields nothing and Collect builds const
// metrics from the registry on every scrape.
type Collector struct {
	engine    *Engine
	namespace string

	activeVUs  *prometheus.Desc
	operations *prometheus.Desc
	failures   *prometheus.Desc
}

// NewCollector creates a collector reporting engine under namespace.
func NewCollector(engine *Engine, namespace string) *Collector {
	return &Collector{
		engine:    engine,
		namespace: namespace,
		activeVUs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vus"),
			"Number of running virtual users.", nil, nil),
		operations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "operations_total"),
			"Completed operations (requests and round trips).", nil, nil),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "operation_failures_total"),
			"Operations that failed or were abandoned.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(c.engine.GetActiveVUs()))
	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(c.engine.totalOps.Load()))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(c.engine.failedOps.Load()))

	for _, name := range c.engine.CounterNames() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", metricName(name)+"_total"),
			"Counter "+name+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(c.engine.Counter(name).Value()))
	}

	for _, name := range c.engine.TrendNames() {
		stats := c.engine.Trend(name).Stats()
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", metricName(name)+"_seconds"),
			"Latency trend "+name+".", nil, nil)
		quantiles := map[float64]float64{
			0.5:  stats.P50.Seconds(),
			0.9:  stats.P90.Seconds(),
			0.95: stats.P95.Seconds(),
			0.99: stats.P99.Seconds(),
		}
		sum := stats.Mean.Seconds() * float64(stats.Count)
		ch <- prometheus.MustNewConstSummary(desc, uint64(stats.Count), sum, quantiles)
	}
}

// Handler returns an HTTP handler serving engine in the Prometheus text
// format on a dedicated registry.
func Handler(engine *Engine, namespace string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(engine, namespace))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

var _ prometheus.Collector = (*Collector)(nil)
