package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OTAOptions)(nil)

// OTAOptions configures the firmware update engine of the agent.
type OTAOptions struct {
	// StateDir holds the firmware slots, the active-slot marker and the
	// installed-version record. Must survive reboots.
	StateDir string `json:"state-dir" mapstructure:"state-dir"`

	// CredentialsDir holds the device access token and the optional TLS
	// trust anchor written during provisioning.
	CredentialsDir string `json:"credentials-dir" mapstructure:"credentials-dir"`

	// RegistryBaseURL is the firmware distribution endpoint used when a
	// notification does not carry a direct download URL.
	RegistryBaseURL string `json:"registry-base-url" mapstructure:"registry-base-url"`

	// ChunkSize is the fixed download buffer size in bytes.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// RetryDelay is the fixed re-arm delay after a failed availability
	// probe. There is no backoff growth.
	RetryDelay time.Duration `json:"retry-delay" mapstructure:"retry-delay"`

	// PreflightTimeout bounds the availability probe.
	PreflightTimeout time.Duration `json:"preflight-timeout" mapstructure:"preflight-timeout"`

	// DownloadTimeout bounds an entire firmware transfer.
	DownloadTimeout time.Duration `json:"download-timeout" mapstructure:"download-timeout"`
}

// NewOTAOptions returns update engine options with the project defaults.
func NewOTAOptions() *OTAOptions {
	return &OTAOptions{
		StateDir:         "/var/lib/tidewatch",
		CredentialsDir:   "/etc/tidewatch/creds",
		RegistryBaseURL:  "https://registry.tidewatch.io",
		ChunkSize:        32 * 1024,
		RetryDelay:       60 * time.Second,
		PreflightTimeout: 10 * time.Second,
		DownloadTimeout:  10 * time.Minute,
	}
}

// Validate reports settings the update engine cannot run with.
func (o *OTAOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error

	if o.StateDir == "" {
		errs = append(errs, fmt.Errorf("ota state dir is required"))
	}
	if o.CredentialsDir == "" {
		errs = append(errs, fmt.Errorf("ota credentials dir is required"))
	}
	if o.RegistryBaseURL != "" {
		if _, err := url.Parse(o.RegistryBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid registry base url: %w", err))
		}
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ota chunk size must be positive"))
	}
	if o.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("ota retry delay must be positive"))
	}

	return errs
}

// AddFlags registers the update engine flags on fs.
func (o *OTAOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.StateDir, "ota.state-dir", o.StateDir, "Directory holding firmware slots and the installed-version record.")
	fs.StringVar(&o.CredentialsDir, "ota.credentials-dir", o.CredentialsDir, "Directory holding the device access token and trust anchor.")
	fs.StringVar(&o.RegistryBaseURL, "ota.registry-base-url", o.RegistryBaseURL, "Base URL of the firmware registry.")
	fs.IntVar(&o.ChunkSize, "ota.chunk-size", o.ChunkSize, "Download buffer size in bytes.")
	fs.DurationVar(&o.RetryDelay, "ota.retry-delay", o.RetryDelay, "Fixed delay before re-probing a firmware server that was not ready.")
	fs.DurationVar(&o.PreflightTimeout, "ota.preflight-timeout", o.PreflightTimeout, "Timeout for the availability probe.")
	fs.DurationVar(&o.DownloadTimeout, "ota.download-timeout", o.DownloadTimeout, "Timeout for a full firmware download.")
}
