// Package metrics exposes host-side Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portrpc"

// Host groups the collectors updated by the host listener and dispatch path.
type Host struct {
	Calls           *prometheus.CounterVec   // by procedure and outcome kind
	CallDuration    *prometheus.HistogramVec // by procedure
	ChannelsRefused *prometheus.CounterVec   // by reason
	ChannelsOpen    prometheus.Gauge
	FramesDropped   prometheus.Counter
}

// NewHost creates the collectors and registers them with reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func NewHost(reg prometheus.Registerer) *Host {
	h := &Host{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls dispatched by the host, by procedure and outcome.",
		}, []string{"procedure", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Time spent dispatching a call.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"procedure"}),
		ChannelsRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_rejected_total",
			Help:      "Channels closed by the authentication gate.",
		}, []string{"reason"}),
		ChannelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_open",
			Help:      "Authenticated channels currently open.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.Calls, h.CallDuration, h.ChannelsRefused, h.ChannelsOpen, h.FramesDropped)
	}
	return h
}
