package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the embedded HTTP listener a binary exposes for
// provisioning, health and metrics endpoints.
type HttpOptions struct {
	// Network is the listener network, normally "tcp".
	Network string `json:"network" mapstructure:"network"`

	// Addr is the host:port the server binds.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout caps how long a single request may take end to end.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewHttpOptions returns HTTP options with the project defaults.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network: "tcp",
		Addr:    "0.0.0.0:8654",
		Timeout: 30 * time.Second,
	}
}

// Validate reports an unusable bind address.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// AddFlags registers the HTTP listener flags on fs.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Listener network for the HTTP server.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Bind address and port for the HTTP server.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Per-request timeout for the HTTP server.")
}
