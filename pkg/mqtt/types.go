// Package mqtt provides an MQTT v5 client built on eclipse/paho.golang's
// autopaho connection manager. It adds handler routing with wildcard
// matching and automatic re-subscription after reconnects, which the raw
// connection manager leaves to the caller.
package mqtt

import (
	"context"
)

// MessageHandler is invoked for each inbound publish whose topic matches the
// subscription's filter. Handlers run on their own goroutine and must not be
// assumed to run in publish order.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the broker connection used by tidewatch components. All methods
// are safe for concurrent use.
type Client interface {
	// Start begins connecting in the background and returns immediately.
	// The manager keeps reconnecting until ctx is cancelled.
	Start(ctx context.Context) error

	// Disconnect sends a clean DISCONNECT and releases the connection.
	Disconnect(ctx context.Context)

	// Publish sends payload to topic and, for qos > 0, waits for the broker
	// acknowledgment.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for the topic filter and sends SUBSCRIBE.
	// The registration survives reconnects: the client re-subscribes on every
	// connection up.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe drops the handler and sends UNSUBSCRIBE for the filter.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until a connection is up or ctx is cancelled.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports whether a connection is currently established.
	IsConnected() bool
}
