package options

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoadConfig fills target with the effective option values: built-in defaults,
// overridden by the optional YAML config file, overridden by any flag set on
// the command line. Flag names double as config keys, so "mqtt.broker" on the
// command line and a nested mqtt.broker entry in the file address the same
// option.
func LoadConfig(cfgFile string, fs *pflag.FlagSet, target any) error {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind command line flags: %w", err)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
