package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpdateAttemptsTotal counts finished update attempts by outcome.
	// outcome: applied / deferred / failed / skipped
	UpdateAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_ota_attempts_total",
			Help: "Total number of firmware update attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// DownloadBytesTotal counts firmware bytes streamed into flash.
	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_ota_download_bytes_total",
			Help: "Total number of firmware bytes downloaded.",
		},
	)

	// EngineState exposes the update engine lifecycle as a state set
	// (exactly one series is 1 at any time).
	EngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tidewatch_ota_engine_state",
			Help: "Current state of the update engine (1 for the active state).",
		},
		[]string{"state"},
	)

	// PendingArmed reports whether a deferred update request is waiting for
	// its next attempt (1=armed, 0=empty or running).
	PendingArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_ota_pending_armed",
			Help: "Whether a deferred firmware request is armed (1=armed).",
		},
	)

	// BusConnected reports broker connectivity (1=connected).
	BusConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_bus_connected",
			Help: "The connectivity status to the MQTT broker (1=connected).",
		},
	)

	// FirmwareRequestsTotal counts registry firmware lookups by method and
	// response code.
	FirmwareRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_registry_firmware_requests_total",
			Help: "Total number of firmware registry requests by method and status code.",
		},
		[]string{"method", "code"},
	)
)

func init() {
	prometheus.MustRegister(UpdateAttemptsTotal)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(EngineState)
	prometheus.MustRegister(PendingArmed)
	prometheus.MustRegister(BusConnected)
	prometheus.MustRegister(FirmwareRequestsTotal)
}
