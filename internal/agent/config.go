package agent

import (
	"github.com/tidewatch-io/tidewatch/pkg/options"
)

// Config aggregates the option groups the agent process consumes. The cmd
// layer builds it from flags and the optional config file.
type Config struct {
	Mqtt *options.MqttOptions
	HTTP *options.HttpOptions
	OTA  *options.OTAOptions
}
