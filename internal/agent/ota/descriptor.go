package ota

import (
	"encoding/json"
)

// Attribute keys of the platform firmware contract.
const (
	keyTitle     = "fw_title"
	keyVersion   = "fw_version"
	keySize      = "fw_size"
	keyChecksum  = "fw_checksum"
	keyAlgorithm = "fw_checksum_algorithm"
	keyURL       = "fw_url"
)

// Descriptor identifies one candidate firmware image and how to obtain it.
// Version is an opaque comparison key, not a semantic version. An empty URL
// means the image is resolved against the registry by title and version.
type Descriptor struct {
	Title             string
	Version           string
	Size              int64
	Checksum          string
	ChecksumAlgorithm string
	URL               string
}

// Notification payloads arrive in one of three shapes: the attributes may
// sit under a "data" key, under a "shared" key (attribute-request
// responses), or at the top level (attribute pushes). Each extractor
// returns the candidate attribute object; the first that succeeds wins.
var payloadShapes = []func(map[string]any) (map[string]any, bool){
	func(m map[string]any) (map[string]any, bool) { return nestedObject(m, "data") },
	func(m map[string]any) (map[string]any, bool) { return nestedObject(m, "shared") },
	func(m map[string]any) (map[string]any, bool) { return m, true },
}

// ParseNotification extracts a firmware descriptor from a raw notification
// payload. It reports false for anything that is not a complete firmware
// announcement: malformed JSON, unrelated attribute updates, or payloads
// missing any of the required keys. It never panics on malformed input.
func ParseNotification(payload []byte) (Descriptor, bool) {
	var root map[string]any
	if err := json.Unmarshal(payload, &root); err != nil {
		return Descriptor{}, false
	}

	var attrs map[string]any
	for _, shape := range payloadShapes {
		if m, ok := shape(root); ok {
			attrs = m
			break
		}
	}
	if attrs == nil {
		return Descriptor{}, false
	}

	var (
		d  Descriptor
		ok bool
	)
	if d.Title, ok = stringField(attrs, keyTitle); !ok {
		return Descriptor{}, false
	}
	if d.Version, ok = stringField(attrs, keyVersion); !ok {
		return Descriptor{}, false
	}
	if d.Size, ok = intField(attrs, keySize); !ok {
		return Descriptor{}, false
	}
	if d.Checksum, ok = stringField(attrs, keyChecksum); !ok {
		return Descriptor{}, false
	}
	if d.ChecksumAlgorithm, ok = stringField(attrs, keyAlgorithm); !ok {
		return Descriptor{}, false
	}
	d.URL, _ = stringField(attrs, keyURL)

	return d, true
}

func nestedObject(m map[string]any, key string) (map[string]any, bool) {
	inner, ok := m[key].(map[string]any)
	return inner, ok
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func intField(m map[string]any, key string) (int64, bool) {
	// encoding/json decodes every number into float64.
	f, ok := m[key].(float64)
	return int64(f), ok
}
