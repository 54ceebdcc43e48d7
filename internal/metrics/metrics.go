// Package metrics holds the process-wide Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vrcam",
		Name:      "frames_captured_total",
		Help:      "Frames acquired from the sensor.",
	}, []string{"camera"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vrcam",
		Name:      "frames_dropped_total",
		Help:      "Frames replaced in a subscriber slot before being read.",
	}, []string{"camera"})

	CaptureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vrcam",
		Name:      "capture_errors_total",
		Help:      "Single-frame acquisition errors.",
	}, []string{"camera"})

	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vrcam",
		Name:      "relay_subscribers",
		Help:      "Live subscriptions per relay.",
	}, []string{"camera"})

	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vrcam",
		Name:      "webrtc_peers",
		Help:      "Peer connections in the active set.",
	})

	RecordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vrcam",
		Name:      "recording_active",
		Help:      "1 while a recording is running.",
	})

	MotionDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vrcam",
		Name:      "motion_detected",
		Help:      "Latest motion analyzer verdict.",
	})

	KeyframeRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vrcam",
		Name:      "keyframe_requests_total",
		Help:      "PLI packets received from peers.",
	})
)
