// Package bus connects the agent to the platform MQTT device API: it
// carries firmware attribute notifications down into the update engine and
// telemetry (including fw_state fragments) back up.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidewatch-io/tidewatch/internal/agent/creds"
	"github.com/tidewatch-io/tidewatch/internal/agent/ota"
	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	"github.com/tidewatch-io/tidewatch/internal/pkg/metrics"
	"github.com/tidewatch-io/tidewatch/pkg/log"
	"github.com/tidewatch-io/tidewatch/pkg/mqtt"
	mqtttopic "github.com/tidewatch-io/tidewatch/pkg/mqtt/topic"
)

// firmwareAttributeKeys is the shared-attribute set requested after every
// connect, so a device that was offline during the push still converges.
const firmwareAttributeKeys = "fw_title,fw_version,fw_size,fw_checksum,fw_checksum_algorithm,fw_url"

const publishTimeout = 10 * time.Second

// Engine is the update-orchestrator surface the bus drives.
type Engine interface {
	HandleUpdateNotification(payload []byte)
	NotifyConnectivityReady()
}

// Config carries the bus configuration. Client.Username is overwritten with
// the device access token once provisioned.
type Config struct {
	Client    mqtt.ClientConfig
	TopicRoot string
}

// Bus owns the MQTT session. It waits for provisioning before the first
// connect (the access token is the broker username), subscribes to the
// attribute topics, and funnels their payloads into the engine verbatim.
type Bus struct {
	cfg      Config
	creds    *creds.Store
	events   <-chan struct{}
	versions *version.Store
	topics   *mqtttopic.Builder
	log      log.Logger

	engine Engine

	// newClient is swappable so tests can observe the session without a
	// broker.
	newClient func(cfg *mqtt.ClientConfig) (mqtt.Client, error)

	confirmOnce sync.Once
	reqID       atomic.Uint32

	subscribed chan struct{}
	done       chan struct{}

	mu     sync.Mutex
	client mqtt.Client
}

var _ ota.StatusReporter = (*Bus)(nil)

// New creates the bus. credEvents is the credentials-change feed used to
// pick up provisioning without a restart; nil disables the wait-for-change
// path.
func New(cfg Config, store *creds.Store, credEvents <-chan struct{}, versions *version.Store, logger log.Logger) *Bus {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bus{
		cfg:        cfg,
		creds:      store,
		events:     credEvents,
		versions:   versions,
		topics:     mqtttopic.NewBuilder(cfg.TopicRoot),
		log:        logger.WithName("bus"),
		newClient:  mqtt.NewClient,
		subscribed: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// AttachEngine binds the update orchestrator. Must be called before Start.
func (b *Bus) AttachEngine(e Engine) {
	b.engine = e
}

// Start connects once the device is provisioned and serves the session
// until the context is canceled.
func (b *Bus) Start(ctx context.Context) error {
	defer close(b.done)

	if err := b.waitProvisioned(ctx); err != nil {
		return err
	}

	token, err := b.creds.AccessToken()
	if err != nil {
		return err
	}

	cfg := b.cfg.Client
	cfg.Username = token
	cfg.WillTopic = b.topics.Telemetry()
	cfg.WillPayload = []byte(`{"online":false}`)
	cfg.WillQoS = 1
	cfg.OnConnectionUp = b.onConnectionUp
	cfg.OnConnectionDown = b.onConnectionDown
	b.applyTrustAnchors(&cfg)

	client, err := b.newClient(&cfg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(stopCtx)
	}()

	if err := client.AwaitConnection(ctx); err != nil {
		return err
	}

	if err := client.Subscribe(ctx, b.topics.Attributes(), 1, b.onAttributes); err != nil {
		return err
	}
	if err := client.Subscribe(ctx, b.topics.AttributesResponseWildcard(), 1, b.onAttributes); err != nil {
		return err
	}
	close(b.subscribed)

	<-ctx.Done()
	b.log.Info("Bus shutting down")
	return nil
}

// ReportStatus publishes one fw_state fragment as telemetry. Errors are
// logged only; status delivery never blocks the update path.
func (b *Bus) ReportStatus(s ota.Status) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.log.Error(err, "Failed to encode status fragment", "state", s.State)
		return
	}
	b.publishTelemetry(payload)
}

// waitProvisioned blocks until the credentials store holds an access token.
// The change feed can race a write that lands between the check and the
// select, so the store is also rechecked periodically.
func (b *Bus) waitProvisioned(ctx context.Context) error {
	if b.creds.Provisioned() {
		return nil
	}

	b.log.Info("Device not provisioned, waiting for credentials", "dir", b.creds.Dir())

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.events:
		case <-tick.C:
		}
		if b.creds.Provisioned() {
			b.log.Info("Credentials provisioned, starting session")
			return nil
		}
	}
}

// applyTrustAnchors points broker TLS at the provisioned CA pool when the
// scheme is a TLS one and no explicit TLS config was given.
func (b *Bus) applyTrustAnchors(cfg *mqtt.ClientConfig) {
	if cfg.TLSConfig != nil {
		return
	}
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return
	}
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
	default:
		return
	}

	pool, err := b.creds.CertPool()
	if err != nil {
		b.log.Error(err, "Failed to load trust anchors for broker TLS")
		return
	}
	if pool != nil {
		cfg.TLSConfig = &tls.Config{RootCAs: pool}
	}
}

func (b *Bus) onConnectionUp() {
	metrics.BusConnected.Set(1)
	go b.afterConnect()
}

func (b *Bus) onConnectionDown() {
	metrics.BusConnected.Set(0)
}

// afterConnect runs the per-connection protocol once the initial
// subscriptions are in place: confirm the booted firmware, report the
// installed version, request the firmware shared attributes, and wake any
// deferred update attempt.
func (b *Bus) afterConnect() {
	select {
	case <-b.subscribed:
	case <-b.done:
		return
	}

	b.confirmOnce.Do(func() {
		if err := b.versions.Confirm(); err != nil {
			b.log.Error(err, "Failed to confirm booted firmware")
		}
	})

	b.reportInstalled()
	b.requestSharedAttributes()

	if b.engine != nil {
		b.engine.NotifyConnectivityReady()
	}
}

// onAttributes forwards both shared-attribute pushes and attribute-request
// responses into the engine untouched.
func (b *Bus) onAttributes(ctx context.Context, topic string, payload []byte) {
	b.log.Debug("Attribute payload received", "topic", topic, "bytes", len(payload))
	if b.engine == nil {
		b.log.Warn("No engine attached, dropping attribute payload", "topic", topic)
		return
	}
	b.engine.HandleUpdateNotification(payload)
}

// reportInstalled publishes the installed firmware identity. A device with
// no record yet reports "unknown" so the platform still sees it check in.
func (b *Bus) reportInstalled() {
	report := map[string]any{
		"online":             true,
		"current_fw_title":   "unknown",
		"current_fw_version": "unknown",
	}
	if rec, found, err := b.versions.Get(); err != nil {
		b.log.Error(err, "Failed to read installed version record")
	} else if found {
		report["current_fw_title"] = rec.Title
		report["current_fw_version"] = rec.Version
	}

	payload, err := json.Marshal(report)
	if err != nil {
		b.log.Error(err, "Failed to encode installed report")
		return
	}
	b.publishTelemetry(payload)
}

// requestSharedAttributes asks the platform for the firmware attribute set.
// The answer arrives on the attributes/response topic and flows through
// onAttributes like any push.
func (b *Bus) requestSharedAttributes() {
	client := b.currentClient()
	if client == nil {
		return
	}

	id := b.reqID.Add(1)
	payload, _ := json.Marshal(map[string]string{"sharedKeys": firmwareAttributeKeys})

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := client.Publish(ctx, b.topics.AttributesRequest(id), 1, false, payload); err != nil {
		b.log.Error(err, "Failed to request shared attributes", "requestID", id)
		return
	}
	b.log.Info("Requested firmware shared attributes", "requestID", id)
}

func (b *Bus) publishTelemetry(payload []byte) {
	client := b.currentClient()
	if client == nil {
		b.log.Warn("Telemetry dropped, session not started", "bytes", len(payload))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := client.Publish(ctx, b.topics.Telemetry(), 1, false, payload); err != nil {
		b.log.Error(err, "Failed to publish telemetry", "bytes", len(payload))
	}
}

func (b *Bus) currentClient() mqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}
