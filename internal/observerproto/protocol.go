package observerproto

import "moltyagent.ai/internal/events"

// Version is the live feed protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeEvent     = "EVENT"
)

// Client -> Server. First message on the feed connection; may be re-sent to
// change the kind filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Kinds limits delivery to these event kinds. Empty means all.
	Kinds []string `json:"kinds,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Account         string         `json:"account,omitempty"`
	Recent          []events.Event `json:"recent"`
}

// Server -> Client. One per agent event.
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Seq             uint64       `json:"seq"`
	Event           events.Event `json:"event"`
}
