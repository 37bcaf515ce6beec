// Package metrics holds the Prometheus collectors for the device UI host.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Process lifecycle
	ProcessSpawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deviceui_process_spawns_total",
			Help: "Total number of device UI process spawn attempts",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	ProcessRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deviceui_process_restarts_total",
			Help: "Total number of restarts triggered by the heartbeat",
		},
	)

	ProcessRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deviceui_process_running",
			Help: "1 when a confirmed-alive device UI process is tracked",
		},
	)

	TerminationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deviceui_termination_errors_total",
			Help: "Total number of errors while killing the device UI process tree",
		},
	)

	// Handshake
	HandshakeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deviceui_handshake_attempts_total",
			Help: "Total number of handshake ping attempts",
		},
		[]string{"outcome"},
	)

	HandshakeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deviceui_handshake_duration_seconds",
			Help:    "Time from first ping to handshake result",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"outcome"},
	)

	// Hub calls
	HubCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deviceui_hub_calls_total",
			Help: "Total number of hub calls by command and outcome",
		},
		[]string{"command", "outcome"}, // outcome: "ok", "timeout", "transport", "remote"
	)

	HubCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deviceui_hub_call_duration_seconds",
			Help:    "Duration of hub calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Settings
	SettingsWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deviceui_settings_writes_total",
			Help: "Total number of persisted app settings writes",
		},
	)

	SettingsPushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deviceui_settings_push_failures_total",
			Help: "Total number of failed settings push sub-commands",
		},
		[]string{"field"},
	)
)

// RecordHubCall records one hub call.
func RecordHubCall(command, outcome string, duration time.Duration) {
	HubCalls.WithLabelValues(command, outcome).Inc()
	HubCallDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordHandshake records the result of a full handshake.
func RecordHandshake(success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	HandshakeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetRunning flips the running gauge.
func SetRunning(running bool) {
	if running {
		ProcessRunning.Set(1)
		return
	}
	ProcessRunning.Set(0)
}
