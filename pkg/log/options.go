// Copyright 2025 The Tidewatch Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger built by NewLogger.
type Options struct {
	// Name, when set, is stamped on every entry as the root logger name.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is the minimum severity that gets written: debug, info, warn
	// or error.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format selects the encoder: "json" for machines, "console" for humans.
	Format string `json:"format,omitempty" mapstructure:"format"`

	// EnableColor colorizes level names. Only meaningful with the console
	// format.
	EnableColor bool `json:"enable-color,omitempty" mapstructure:"enable-color"`

	// DisableCaller drops the file:line annotation from entries.
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip adjusts which stack frame the caller annotation points at.
	// The default of 2 accounts for the wrapper methods in this package.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// OutputPaths lists the log sinks. "stdout" and "stderr" are recognized
	// alongside file paths. Empty means stdout.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns logger options tuned for interactive use: colored
// console output at info level.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  2,
		OutputPaths: []string{"stdout"},
	}
}

// Validate reports configuration values the logger cannot honor.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q: %w", o.Level, err))
	}

	if o.Format != "json" && o.Format != "console" {
		errs = append(errs, fmt.Errorf("invalid log format %q, expected json or console", o.Format))
	}

	return errs
}

// AddFlags registers the logger flags on fs under the log.* namespace.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Root name stamped on every log entry.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum severity to log: debug, info, warn or error.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log encoder, one of json or console.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize console output.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit file and line from log entries.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Caller frames to skip when annotating entries.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log sinks, e.g. stdout or /var/log/tidewatch.log.")
}
