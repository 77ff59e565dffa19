package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/tidewatch-io/tidewatch/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the broker connection and the device API topic
// namespace. Credentials are not part of the options: the access token is
// provisioned into the credential store and applied at connect time.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether the client verifies the broker's
	// certificate chain and host name. TLS becomes susceptible to
	// man-in-the-middle attacks when set; development brokers only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot is the device API namespace prefix.
	// Topics are constructed as {TopicRoot}/{suffix}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions returns MQTT options with the project defaults.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "ssl://mqtt.tidewatch.io:8883",
		ClientID:       "tidewatch-agent",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		SessionExpiry:  60,
		CleanStart:     false,
		TopicRoot:      "v1/devices/me",
	}
}

// Validate reports broker settings the client cannot use.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Broker == "" {
		errors = append(errors, fmt.Errorf("mqtt broker url is required"))
	} else if _, err := url.Parse(o.Broker); err != nil {
		errors = append(errors, fmt.Errorf("invalid mqtt broker url: %w", err))
	}

	return errors
}

// AddFlags registers the MQTT flags on fs.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "Broker URL, e.g. ssl://host:8883.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Client identifier presented to the broker.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "Keepalive interval for the broker connection.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Limit for each broker connection attempt.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "Seconds the broker keeps session state after a disconnect.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean MQTT session instead of resuming the previous one.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification for the broker.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Device API topic namespace prefix.")
}

// ToClientConfig converts the options to a client configuration. Credentials
// are deliberately absent: the device access token is provisioned at runtime
// and injected by the caller.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
