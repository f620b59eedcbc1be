package observerproto

import "github.com/CoreyShupe/BentoBox/internal/alloc"

// Version is the observer protocol version (separate from the island WS protocol).
const Version = "0.1"

const (
	TypeSubscribe       = "SUBSCRIBE"
	TypeAllocationEvent = "ALLOCATION_EVENT"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Empty means every world.
	Worlds    []string `json:"worlds,omitempty"`
	Requester string   `json:"requester,omitempty"`
	// FailuresOnly limits the feed to failed and aborted allocations.
	FailuresOnly bool `json:"failures_only,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	DefaultWorldID  string        `json:"default_world_id"`
	Worlds          []WorldParams `json:"worlds"`
	Islands         int           `json:"islands"`
}

type WorldParams struct {
	WorldID         string `json:"world_id"`
	Distance        int    `json:"distance"`
	Height          int    `json:"height"`
	Origin          [3]int `json:"origin"`
	BlockedCeiling  int    `json:"blocked_ceiling"`
	UseOwnGenerator bool   `json:"use_own_generator,omitempty"`
}

// Server -> Client. One per allocation event that passes the filter.
type EventMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Event           alloc.Event `json:"event"`
}
