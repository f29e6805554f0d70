package router

import "encoding/json"

// Inbound/outbound WebSocket frame verbs (spec component 4.C). Every frame
// is a JSON object carrying a "type" field naming one of these.
const (
	VerbRegister                = "register"
	VerbRegistrationConfirmed   = "registration-confirmed"
	VerbHeartbeat               = "heartbeat"
	VerbHeartbeatAck            = "heartbeat_ack"
	VerbControllerHeartbeat     = "controller-heartbeat"
	VerbControllerActivate      = "controller-activate"
	VerbControllerDeactivate    = "controller-deactivate"
	VerbControllerConnections   = "controller-connections"
	VerbRequestActiveController = "request-active-controller"
	VerbActiveController        = "active-controller"
	VerbOffer                   = "offer"
	VerbAnswer                  = "answer"
	VerbICECandidate            = "ice-candidate"
	VerbClientList               = "client-list"
	VerbClientConnected          = "client-connected"
	VerbClientReconnected        = "client-reconnected"
	VerbClientDisconnected       = "client-disconnected"
)

// Frame is the envelope shape every inbound message is decoded into.
// Verb-specific fields are pulled from Raw on demand so the router doesn't
// need one struct per verb just to read the "type" discriminator.
type Frame struct {
	Type string `json:"type"`
	Raw  json.RawMessage
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	f.Type = head.Type
	f.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// RegisterFrame is the body of a "register" verb.
type RegisterFrame struct {
	ID          string `json:"id"`
	ClientType  string `json:"clientType"`
	IsReconnect bool   `json:"isReconnect"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// RegistrationConfirmedFrame replies to a successful "register".
type RegistrationConfirmedFrame struct {
	Type              string `json:"type"`
	ID                string `json:"id"`
	ReconnectionCount int    `json:"reconnectionCount"`
	Timestamp         int64  `json:"timestamp"`
	IsReconnection    bool   `json:"isReconnection"`
}

// HeartbeatAckFrame replies to "heartbeat".
type HeartbeatAckFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ActiveControllerFrame announces the current leader, or null for none.
type ActiveControllerFrame struct {
	Type         string  `json:"type"`
	ControllerID *string `json:"controllerId"`
	Timestamp    int64   `json:"timestamp"`
}

// SignalingFrame carries an offer/answer/ice-candidate between peers.
type SignalingFrame struct {
	Type   string          `json:"type"`
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source,omitempty"`
}

// ClientListEntry is one row of a "client-list" reply.
type ClientListEntry struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	LastSeen  int64  `json:"lastSeen"`
}

// ClientListFrame replies to "controller-heartbeat" and the initial push on
// controller registration.
type ClientListFrame struct {
	Type    string            `json:"type"`
	Clients []ClientListEntry `json:"clients"`
}

// ControllerConnectionsFrame reports a controller's live WebRTC peer set.
type ControllerConnectionsFrame struct {
	Connections []string `json:"connections"`
}

// LifecycleFrame announces client-connected/reconnected/disconnected to
// controllers.
type LifecycleFrame struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}
