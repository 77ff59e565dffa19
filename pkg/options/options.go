package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions defines the methods an option group must implement so the cmd
// layer can compose groups uniformly.
type IOptions interface {
	// Validate checks the option values and returns all problems found.
	Validate() []error

	// AddFlags binds the options to the given flag set. The optional prefixes
	// allow reusing one group under different flag namespaces.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a host:port the process can bind.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host != "" && net.ParseIP(host) == nil {
		// Hostnames are allowed, but reject obviously broken values.
		if _, err := net.LookupPort("tcp", port); err != nil {
			return fmt.Errorf("invalid address %q: %w", addr, err)
		}
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port in address %q", addr)
	}
	return nil
}
