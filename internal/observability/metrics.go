package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records one invocation's exchange counters in its own registry so a
// short-lived CLI run can flush them to a node-exporter textfile.
type Metrics struct {
	registry *prometheus.Registry

	frames        *prometheus.CounterVec
	frameBytes    *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	exchangeTime  prometheus.Histogram
	lastRunUnix   prometheus.Gauge
	lastRunStatus prometheus.Gauge
}

func NewMetrics(host string) *Metrics {
	labels := prometheus.Labels{"host": host}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "eppctl",
				Subsystem:   "frame",
				Name:        "total",
				Help:        "EPP frames by direction.",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		frameBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "eppctl",
				Subsystem:   "frame",
				Name:        "bytes_total",
				Help:        "EPP frame bytes on the wire by direction.",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "eppctl",
				Subsystem:   "exchange",
				Name:        "total",
				Help:        "Request/response exchanges by outcome.",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		exchangeTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   "eppctl",
				Subsystem:   "exchange",
				Name:        "duration_seconds",
				Help:        "Time from request write to response frame read.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
		),
		lastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "eppctl",
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished.",
			ConstLabels: labels,
		}),
		lastRunStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "eppctl",
			Name:        "last_run_success",
			Help:        "1 when every template in the last run succeeded.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.frames, m.frameBytes, m.exchanges, m.exchangeTime, m.lastRunUnix, m.lastRunStatus)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FrameSent and FrameReceived take the payload size; the 4-byte header is added here.
func (m *Metrics) FrameSent(payloadLen int) {
	m.frames.WithLabelValues("sent").Inc()
	m.frameBytes.WithLabelValues("sent").Add(float64(payloadLen + 4))
}

func (m *Metrics) FrameReceived(payloadLen int) {
	m.frames.WithLabelValues("received").Inc()
	m.frameBytes.WithLabelValues("received").Add(float64(payloadLen + 4))
}

func (m *Metrics) Exchange(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.exchanges.WithLabelValues(outcome).Inc()
	if err == nil {
		m.exchangeTime.Observe(duration.Seconds())
	}
}

func (m *Metrics) RunFinished(at time.Time, err error) {
	m.lastRunUnix.Set(float64(at.Unix()))
	if err != nil {
		m.lastRunStatus.Set(0)
		return
	}
	m.lastRunStatus.Set(1)
}

// WriteTextfile writes the registry in text exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
