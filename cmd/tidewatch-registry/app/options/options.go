package options

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tidewatch-io/tidewatch/internal/registry"
	"github.com/tidewatch-io/tidewatch/pkg/log"
	genericoptions "github.com/tidewatch-io/tidewatch/pkg/options"
)

// RegistryOptions aggregates the option groups of the firmware registry.
type RegistryOptions struct {
	HTTP *genericoptions.HttpOptions `json:"http" mapstructure:"http"`
	S3   *genericoptions.S3Options   `json:"s3" mapstructure:"s3"`
	Log  *log.Options                `json:"log" mapstructure:"log"`

	// Tokens is the device access token allow-list. A request with a token
	// outside the list is rejected with 401.
	Tokens []string `json:"tokens" mapstructure:"tokens"`
}

// NewRegistryOptions returns registry options with the project defaults.
func NewRegistryOptions() *RegistryOptions {
	httpOpts := genericoptions.NewHttpOptions()
	httpOpts.Addr = "0.0.0.0:8655"

	return &RegistryOptions{
		HTTP: httpOpts,
		S3:   genericoptions.NewS3Options(),
		Log:  log.NewOptions(),
	}
}

// AddFlags adds the flags of every option group to the given flag set.
func (o *RegistryOptions) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.S3.AddFlags(fs)
	o.Log.AddFlags(fs)
	fs.StringSliceVar(&o.Tokens, "tokens", o.Tokens, "Device access tokens allowed to fetch firmware.")
}

// Validate checks every option group and reports all problems found.
func (o *RegistryOptions) Validate() error {
	var errs []error
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if len(o.Tokens) == 0 {
		errs = append(errs, fmt.Errorf("at least one device token is required"))
	}
	return errors.Join(errs...)
}

// Config turns validated options into a runtime registry configuration.
func (o *RegistryOptions) Config() (*registry.Config, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &registry.Config{
		HTTP:   o.HTTP,
		S3:     o.S3,
		Tokens: o.Tokens,
	}, nil
}
