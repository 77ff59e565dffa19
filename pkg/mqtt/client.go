package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// subscription is one registered topic filter plus its handler. Entries are
// kept for the lifetime of the client so they can be replayed on reconnect.
type subscription struct {
	topic   string
	qos     int
	handler MessageHandler
}

type client struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	connected atomic.Bool

	// subs maps topic filter -> subscription.
	subs sync.Map
}

// NewClient validates cfg, fills in defaults, and returns an unstarted
// client. The broker is not contacted until Start.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &client{cfg: cfg}, nil
}

func (c *client) Start(ctx context.Context) error {
	log.Info("Starting MQTT client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, c.pahoConfig())
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

// pahoConfig translates ClientConfig into the autopaho configuration,
// wiring the lifecycle callbacks back into this client.
func (c *client) pahoConfig() autopaho.ClientConfig {
	broker, _ := url.Parse(c.cfg.BrokerURL) // checked by Validate

	tlsCfg := c.cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}
	}

	return autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        tlsCfg,
		WillMessage:                   c.will(),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError:                c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
		},
	}
}

func (c *client) will() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}

func (c *client) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	_ = c.cm.Disconnect(ctx)
	c.connectionLost()
	log.Info("MQTT client disconnected")
}

func (c *client) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *client) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	// Register first so a reconnect between now and the SUBSCRIBE ack still
	// picks the filter up.
	c.subs.Store(topic, subscription{topic: topic, qos: qos, handler: handler})

	if err := c.sendSubscribe(ctx, c.cm, topic, qos); err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	log.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (c *client) sendSubscribe(ctx context.Context, cm *autopaho.ConnectionManager, topic string, qos int) error {
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	})
	return err
}

func (c *client) Unsubscribe(ctx context.Context, topic string) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	c.subs.Delete(topic)

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

func (c *client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *client) IsConnected() bool {
	return c.connected.Load()
}

// onConnectionUp runs for the initial connect and every reconnect. The broker
// forgets subscriptions when the session is gone, so all registered filters
// are replayed before the up hook fires.
func (c *client) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	log.Info("MQTT connection established")
	c.connected.Store(true)

	c.subs.Range(func(_, value any) bool {
		sub := value.(subscription)
		log.Info("Re-subscribing", "topic", sub.topic)
		if err := c.sendSubscribe(context.Background(), cm, sub.topic, sub.qos); err != nil {
			log.Error(err, "Failed to re-subscribe", "topic", sub.topic)
		}
		return true
	})

	if c.cfg.OnConnectionUp != nil {
		c.cfg.OnConnectionUp()
	}
}

func (c *client) onConnectError(err error) {
	c.connectionLost()
	log.Error(err, "MQTT connection failed, retrying")
}

func (c *client) onClientError(err error) {
	c.connectionLost()
	log.Error(err, "MQTT client internal error")
}

func (c *client) onServerDisconnect(d *paho.Disconnect) {
	c.connectionLost()
	if d.Properties != nil {
		log.Warn("Broker requested disconnect", "reason", d.Properties.ReasonString)
		return
	}
	log.Warn("Broker requested disconnect", "reasonCode", d.ReasonCode)
}

// connectionLost flips the connected flag and fires the down hook at most
// once per established connection.
func (c *client) connectionLost() {
	if c.connected.CompareAndSwap(true, false) && c.cfg.OnConnectionDown != nil {
		c.cfg.OnConnectionDown()
	}
}

// route fans an inbound publish out to every matching handler. Filters may
// contain wildcards, so the subscription table is scanned linearly; agents
// hold a handful of subscriptions, so the scan is cheap.
func (c *client) route(p paho.PublishReceived) (bool, error) {
	matched := false

	c.subs.Range(func(_, value any) bool {
		sub := value.(subscription)
		if !topicsMatch(topicFilter(sub.topic), p.Packet.Topic) {
			return true
		}
		matched = true
		// Handlers run off the reader goroutine so a slow handler cannot
		// stall the connection.
		go func(h MessageHandler) {
			h(context.Background(), p.Packet.Topic, p.Packet.Payload)
		}(sub.handler)
		return true
	})

	if !matched {
		log.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
	}

	return true, nil
}

// topicsMatch reports whether topic falls within filter under MQTT matching
// rules: "+" spans exactly one level, "#" spans the rest of the name.
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")

	for i, part := range fparts {
		if part == "#" {
			return true
		}
		if i >= len(tparts) {
			return false
		}
		if part != "+" && part != tparts[i] {
			return false
		}
	}

	return len(fparts) == len(tparts)
}

// topicFilter strips the $share/<group>/ envelope from a shared subscription
// so matching sees the filter the broker actually applies.
func topicFilter(filter string) string {
	const sharePrefix = "$share/"
	if !strings.HasPrefix(filter, sharePrefix) {
		return filter
	}
	rest := filter[len(sharePrefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return filter
}
