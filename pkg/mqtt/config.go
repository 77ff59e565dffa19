package mqtt

import (
	"crypto/tls"
	"errors"
	"net/url"
	"time"
)

// ClientConfig carries everything needed to reach a broker. The zero value
// is not usable; at minimum BrokerURL must be set.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive is the MQTT keepalive interval in seconds. Zero selects 60.
	KeepAlive uint16

	// ConnectTimeout bounds each connection attempt. Zero selects 5s.
	ConnectTimeout time.Duration

	// SessionExpiry is the MQTT v5 session expiry interval in seconds. A
	// non-zero value lets the broker queue messages across reconnects.
	SessionExpiry uint32

	// CleanStart discards broker-side session state on the first connect.
	// Device agents leave this false so queued messages survive downtime.
	CleanStart bool

	// TLSConfig, when set, is used as-is for broker connections. This is how
	// a device trust anchor (custom CA pool) is injected.
	TLSConfig *tls.Config

	// InsecureSkipVerify disables TLS certificate verification. Only honored
	// when TLSConfig is nil. Intended for development brokers.
	InsecureSkipVerify bool

	// Will message published by the broker on unexpected disconnect.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// OnConnectionUp is invoked after every successful (re)connect, once the
	// client has restored its subscriptions. Optional.
	OnConnectionUp func()

	// OnConnectionDown is invoked when the connection is lost, at most once
	// per established connection. Optional.
	OnConnectionDown func()
}

// setDefaultConfig fills zero-valued timing fields with working defaults.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
}

// Validate rejects configurations the client cannot connect with.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return err
	}
	return nil
}
