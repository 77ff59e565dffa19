package ota

// fw_state values of the platform device contract.
const (
	StateDownloading = "DOWNLOADING"
	StateDownloaded  = "DOWNLOADED"
	StateVerified    = "VERIFIED"
	StateUpdated     = "UPDATED"
	StateFailed      = "FAILED"
)

// Status is one firmware-state fragment merged into device telemetry.
type Status struct {
	State string `json:"fw_state"`
	Error string `json:"fw_error,omitempty"`
}

// StatusReporter publishes firmware status fragments to the platform.
// Implementations are fire-and-forget: delivery failures are logged on
// their side and never surface into the update path.
type StatusReporter interface {
	ReportStatus(status Status)
}
