package registry

import (
	"github.com/tidewatch-io/tidewatch/pkg/options"
)

// Config carries the registry configuration assembled by the cmd layer.
type Config struct {
	HTTP *options.HttpOptions
	S3   *options.S3Options

	// Tokens is the device access-token allow-list. A device whose token is
	// not listed gets 401 on every firmware request.
	Tokens []string
}
