package topic

import (
	"fmt"
	"strconv"
)

// Constants defining the standard device API topic segments.
// These act as the protocol contract between the platform and every device.
// Changing these values will break compatibility with deployed agents.
const (
	// SuffixTelemetry is the upstream time-series topic (Device -> Platform).
	// Structure: {root}/telemetry
	SuffixTelemetry = "telemetry"

	// SuffixAttributes carries shared-attribute pushes (Platform -> Device)
	// and client-attribute publishes (Device -> Platform) on the same path.
	// Structure: {root}/attributes
	SuffixAttributes = "attributes"

	// SuffixAttributesRequest is the device-initiated attribute fetch.
	// The request identifier correlates the response.
	// Structure: {root}/attributes/request/{id}
	SuffixAttributesRequest = "attributes/request"

	// SuffixAttributesResponse carries answers to attribute requests.
	// Structure: {root}/attributes/response/{id}
	SuffixAttributesResponse = "attributes/response"
)

// DefaultRoot is the device-scoped namespace used by the platform's MQTT
// device API. Authentication binds the session to one device, so the topic
// itself carries no device identifier.
const DefaultRoot = "v1/devices/me"

// Builder encapsulates the construction of device API topic strings.
// It keeps topic assembly in one place so the contract stays consistent
// across the agent, tests, and tooling.
type Builder struct {
	// root is the base namespace for all topics (e.g. "v1/devices/me").
	root string
}

// NewBuilder creates a Builder with the specified root namespace. An empty
// root selects DefaultRoot.
func NewBuilder(root string) *Builder {
	if root == "" {
		root = DefaultRoot
	}
	return &Builder{root: root}
}

// Telemetry returns the topic for publishing time-series and status data.
// Direction: Device -> Platform
func (b *Builder) Telemetry() string {
	return fmt.Sprintf("%s/%s", b.root, SuffixTelemetry)
}

// Attributes returns the topic on which the platform pushes shared-attribute
// changes, and on which the device publishes client attributes.
func (b *Builder) Attributes() string {
	return fmt.Sprintf("%s/%s", b.root, SuffixAttributes)
}

// AttributesRequest returns the topic for requesting attribute values.
// Direction: Device -> Platform
func (b *Builder) AttributesRequest(id uint32) string {
	return fmt.Sprintf("%s/%s/%s", b.root, SuffixAttributesRequest, strconv.FormatUint(uint64(id), 10))
}

// AttributesResponseWildcard returns the filter the device subscribes to for
// attribute-request answers.
// Result: {root}/attributes/response/+
func (b *Builder) AttributesResponseWildcard() string {
	return fmt.Sprintf("%s/%s/%s", b.root, SuffixAttributesResponse, Wildcard)
}
