package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records gateway request metrics and flow transitions in Prometheus
type Collector struct {
	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
}

// NewCollector creates the collector and registers it with reg
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dex_console",
			Name:      "gateway_request_duration_seconds",
			Help:      "Backend request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dex_console",
			Name:      "gateway_requests_total",
			Help:      "Backend requests by operation and status.",
		}, []string{"method", "path", "status"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dex_console",
			Name:      "gateway_request_errors_total",
			Help:      "Backend requests that failed.",
		}, []string{"method", "path"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dex_console",
			Name:      "flow_transitions_total",
			Help:      "Confirmation flow phase transitions.",
		}, []string{"phase"}),
	}

	for _, col := range []prometheus.Collector{c.requestDuration, c.requestCount, c.requestErrors, c.transitions} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) RecordRequestDuration(method, path string, statusCode int, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, path, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

func (c *Collector) RecordRequestCount(method, path string, statusCode int) {
	c.requestCount.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordRequestError(method, path string) {
	c.requestErrors.WithLabelValues(method, path).Inc()
}

// RecordTransition counts entries into a flow phase
func (c *Collector) RecordTransition(phase string) {
	c.transitions.WithLabelValues(phase).Inc()
}
