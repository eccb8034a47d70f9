// Package metrics exports socket manager accounting as Prometheus metrics.
// A *Collector is a netsocket.Observer; set it as Config.Observer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cyberinferno/gamenet/netsocket"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "gamenet").
	Namespace string
	// Subsystem is the metrics subsystem, e.g. the server name.
	Subsystem string
	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels
	// Buckets are the poll cycle histogram buckets in seconds.
	Buckets []float64
	// Registry receives the metrics (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// DefaultConfig returns the Config used by gamenetd.
func DefaultConfig() Config {
	return Config{
		Namespace: "gamenet",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector records manager events into Prometheus metrics.
type Collector struct {
	bytesIn    prometheus.Counter
	bytesOut   prometheus.Counter
	opened     prometheus.Counter
	closed     *prometheus.CounterVec
	rejected   prometheus.Counter
	open       prometheus.Gauge
	pollCycles prometheus.Histogram
}

var _ netsocket.Observer = (*Collector)(nil)

// New registers the collector's metrics with cfg.Registry. It panics if they
// are already registered there, like promauto does.
//
// Parameters:
//   - cfg: The metrics configuration; zero fields take DefaultConfig values
//
// Returns:
//   - A Collector ready to use as a netsocket.Observer
func New(cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}

	if len(cfg.Buckets) == 0 {
		cfg.Buckets = def.Buckets
	}

	if cfg.Registry == nil {
		cfg.Registry = def.Registry
	}

	factory := promauto.With(cfg.Registry)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}
	}

	return &Collector{
		bytesIn:  factory.NewCounter(opts("bytes_received_total", "Bytes read from connections")),
		bytesOut: factory.NewCounter(opts("bytes_sent_total", "Bytes written to connections")),
		opened:   factory.NewCounter(opts("connections_opened_total", "Connections registered with the manager")),
		closed: factory.NewCounterVec(opts("connections_closed_total", "Connections released by the sweep"),
			[]string{"reason"}),
		rejected: factory.NewCounter(opts("connections_rejected_total", "Connections refused at the open socket ceiling")),
		open: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connections_open",
			Help:        "Currently registered connections, listeners excluded",
			ConstLabels: cfg.ConstLabels,
		}),
		pollCycles: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "poll_cycle_seconds",
			Help:        "Duration of one poll cycle",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}),
	}
}

func (c *Collector) BytesIn(n int)  { c.bytesIn.Add(float64(n)) }
func (c *Collector) BytesOut(n int) { c.bytesOut.Add(float64(n)) }
func (c *Collector) Rejected()      { c.rejected.Inc() }

func (c *Collector) Opened() {
	c.opened.Inc()
	c.open.Inc()
}

// Closed counts the release under its primary reason.
func (c *Collector) Closed(reason netsocket.Removal) {
	c.closed.WithLabelValues(Reason(reason)).Inc()
	c.open.Dec()
}

func (c *Collector) PollCycle(d time.Duration) {
	c.pollCycles.Observe(d.Seconds())
}

// Reason maps a removal bitmask to a single label value. Framing wins over
// error, error over timeout, timeout over close.
func Reason(r netsocket.Removal) string {
	switch {
	case r&netsocket.RemoveFraming != 0:
		return "framing"
	case r&netsocket.RemoveError != 0:
		return "error"
	case r&netsocket.RemoveTimeout != 0:
		return "timeout"
	case r&netsocket.RemoveClose != 0:
		return "close"
	default:
		return "none"
	}
}
