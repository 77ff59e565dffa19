package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/tidewatch-io/tidewatch/internal/agent"
	"github.com/tidewatch-io/tidewatch/pkg/log"
	genericoptions "github.com/tidewatch-io/tidewatch/pkg/options"
)

// AgentOptions aggregates the option groups of the device agent.
type AgentOptions struct {
	Mqtt *genericoptions.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	HTTP *genericoptions.HttpOptions `json:"http" mapstructure:"http"`
	OTA  *genericoptions.OTAOptions  `json:"ota" mapstructure:"ota"`
	Log  *log.Options                `json:"log" mapstructure:"log"`
}

// NewAgentOptions returns agent options with the project defaults.
func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		Mqtt: genericoptions.NewMqttOptions(),
		HTTP: genericoptions.NewHttpOptions(),
		OTA:  genericoptions.NewOTAOptions(),
		Log:  log.NewOptions(),
	}
}

// AddFlags adds the flags of every option group to the given flag set.
func (o *AgentOptions) AddFlags(fs *pflag.FlagSet) {
	o.Mqtt.AddFlags(fs)
	o.HTTP.AddFlags(fs)
	o.OTA.AddFlags(fs)
	o.Log.AddFlags(fs)
}

// Validate checks every option group and reports all problems found.
func (o *AgentOptions) Validate() error {
	var errs []error
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.OTA.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

// Config turns validated options into a runtime agent configuration.
func (o *AgentOptions) Config() (*agent.Config, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &agent.Config{
		Mqtt: o.Mqtt,
		HTTP: o.HTTP,
		OTA:  o.OTA,
	}, nil
}
