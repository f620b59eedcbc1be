package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Requester       string `json:"requester"`
	Name            string `json:"name,omitempty"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Requester       string     `json:"requester"`
	DefaultWorldID  string     `json:"default_world_id"`
	Worlds          []WorldRef `json:"worlds"`
}

type WorldRef struct {
	WorldID  string `json:"world_id"`
	Distance int    `json:"distance"`
	Height   int    `json:"height"`
}

// CREATE_ISLAND / RESET_ISLAND (client -> server)
type IslandReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	World           string `json:"world,omitempty"`
	Bundle          string `json:"bundle,omitempty"`
	NoPaste         bool   `json:"no_paste,omitempty"`
}

// Result stages.
const (
	// StageReserved answers a reserve command; no island exists yet.
	StageReserved   = "RESERVED"
	StageRegistered = "REGISTERED"
	StageReady      = "READY"
	StageFailed     = "FAILED"
)

// ISLAND_RESULT (server -> client). A successful request gets a REGISTERED
// result and later a READY or FAILED one once pasting finishes.
type IslandResultMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	Stage           string  `json:"stage"`
	World           string  `json:"world,omitempty"`
	PlotID          string  `json:"plot_id,omitempty"`
	Center          *[3]int `json:"center,omitempty"`
	Code            string  `json:"code,omitempty"`
	MessageKey      string  `json:"message_key,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// NOTICE (server -> client): a localized message key for the player.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MessageKey      string `json:"message_key"`
}

// TELEPORT (server -> client): move the player to their island home.
type TeleportMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	World           string `json:"world"`
}

// IslandCommand is a create or reset request on the HTTP and MCP surfaces,
// where the caller names the requester explicitly. Reason is "create"
// (default) or "reset".
type IslandCommand struct {
	Requester string `json:"requester"`
	World     string `json:"world,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Bundle    string `json:"bundle,omitempty"`
	NoPaste   bool   `json:"no_paste,omitempty"`
	// Wait holds the answer until pasting has finished.
	Wait bool `json:"wait,omitempty"`
}

// ReserveCommand holds a plot for a requester ahead of their first create
// or next reset. At is an x,z pair; without it the server searches.
type ReserveCommand struct {
	Requester string  `json:"requester"`
	World     string  `json:"world,omitempty"`
	At        *[2]int `json:"at,omitempty"`
}
