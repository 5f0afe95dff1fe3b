/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/forwarder"
)

const (
	namespace = "session_proxy"
	subsystem = "forwarder"
)

// Collector turns forwarder events into metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	sessions         *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionDuration  prometheus.Histogram
	upstreamFailures *prometheus.CounterVec
	relayErrors      prometheus.Counter
	idleTimeouts     prometheus.Counter
	bytesRelayed     *prometheus.CounterVec
	fdsRelayed       *prometheus.CounterVec
	acceptErrors     prometheus.Counter
}

func getOpts(name string, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}
}

func NewCollector() *Collector {
	collector := &Collector{
		registry: prometheus.NewRegistry(),

		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts(getOpts("sessions_total", "Sessions connected to the compositor, by how the client arrived.")),
			[]string{"source"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts(getOpts("sessions_active", "Sessions currently relaying.")),
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "session_duration_seconds",
				Help:      "Lifetime of finished sessions.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
			},
		),
		upstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts(getOpts("upstream_failures_total", "Clients dropped because the compositor could not be reached.")),
			[]string{"source"},
		),
		relayErrors: prometheus.NewCounter(
			prometheus.CounterOpts(getOpts("relay_errors_total", "Sessions ended by an I/O error.")),
		),
		idleTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts(getOpts("idle_timeouts_total", "Sessions closed for inactivity.")),
		),
		bytesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts(getOpts("bytes_relayed_total", "Payload bytes relayed.")),
			[]string{"direction"},
		),
		fdsRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts(getOpts("fds_relayed_total", "File descriptors passed along with the payload.")),
			[]string{"direction"},
		),
		acceptErrors: prometheus.NewCounter(
			prometheus.CounterOpts(getOpts("accept_errors_total", "Failed accepts on the privileged socket.")),
		),
	}

	for _, source := range []forwarder.Source{forwarder.SourceListener, forwarder.SourceSession} {
		collector.sessions.WithLabelValues(string(source))
		collector.upstreamFailures.WithLabelValues(string(source))
	}
	for _, direction := range []forwarder.Direction{forwarder.ToUpstream, forwarder.ToClient} {
		collector.bytesRelayed.WithLabelValues(string(direction))
		collector.fdsRelayed.WithLabelValues(string(direction))
	}

	collector.registry.MustRegister(collector)

	return collector
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sessions.Describe(ch)
	c.sessionsActive.Describe(ch)
	c.sessionDuration.Describe(ch)
	c.upstreamFailures.Describe(ch)
	c.relayErrors.Describe(ch)
	c.idleTimeouts.Describe(ch)
	c.bytesRelayed.Describe(ch)
	c.fdsRelayed.Describe(ch)
	c.acceptErrors.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sessions.Collect(ch)
	c.sessionsActive.Collect(ch)
	c.sessionDuration.Collect(ch)
	c.upstreamFailures.Collect(ch)
	c.relayErrors.Collect(ch)
	c.idleTimeouts.Collect(ch)
	c.bytesRelayed.Collect(ch)
	c.fdsRelayed.Collect(ch)
	c.acceptErrors.Collect(ch)
}

func (c *Collector) SessionStarted(info forwarder.SessionInfo) {
	c.sessions.WithLabelValues(string(info.Source)).Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded(info forwarder.SessionInfo, err error) {
	c.sessionsActive.Dec()
	c.sessionDuration.Observe(time.Since(info.StartedAt).Seconds())

	if errors.Is(err, forwarder.ErrIdleTimeout) {
		c.idleTimeouts.Inc()
	}
	if errors.Is(err, errors.ErrRelay) {
		c.relayErrors.Inc()
	}
}

func (c *Collector) UpstreamFailed(source forwarder.Source, err error) {
	c.upstreamFailures.WithLabelValues(string(source)).Inc()
}

func (c *Collector) Relayed(direction forwarder.Direction, bytes int, fds int) {
	c.bytesRelayed.WithLabelValues(string(direction)).Add(float64(bytes))
	if fds > 0 {
		c.fdsRelayed.WithLabelValues(string(direction)).Add(float64(fds))
	}
}

func (c *Collector) AcceptFailed(err error) {
	c.acceptErrors.Inc()
}
