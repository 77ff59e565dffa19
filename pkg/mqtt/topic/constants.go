package topic

// MQTT wildcard tokens used when assembling subscription filters.
const (
	// Wildcard matches a single topic level, e.g.
	// "v1/devices/me/attributes/response/+" matches any request id.
	Wildcard = "+"

	// MultiWildcard matches the remainder of a topic name and may only
	// appear as the final level of a filter.
	MultiWildcard = "#"
)
