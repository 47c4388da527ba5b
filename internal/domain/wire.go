package domain

// Wire event kinds shared by server and client.
const (
	EventMessage   = "message"
	EventPing      = "ping"
	EventPong      = "pong"
	EventUserCount = "userCount"
	EventRateLimit = "rateLimit"
)

// ClientFrame is a JSON text frame sent by the client. Only "message" and
// "ping" are meaningful; anything else is ignored.
type ClientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// MessageEvent delivers an accepted chat or system message.
type MessageEvent struct {
	Type    string       `json:"type"`
	Message *ChatMessage `json:"message"`
}

// PresenceEvent is the room-presence snapshot broadcast on every join and
// leave: connection count plus the deduplicated list of distinct users.
type PresenceEvent struct {
	Type           string     `json:"type"`
	Count          int        `json:"count"`
	ConnectedUsers []Identity `json:"connectedUsers"`
}

// RateLimitEvent is sent to a sender that exceeded the message window.
// It is an expected protocol state, not an error.
type RateLimitEvent struct {
	Type         string `json:"type"`
	RetryAfterMs int64  `json:"retryAfterMs"`
	Limit        int    `json:"limit"`
	WindowMs     int64  `json:"windowMs"`
}

// PongEvent answers a client liveness probe.
type PongEvent struct {
	Type string `json:"type"`
}

func NewMessageEvent(msg *ChatMessage) MessageEvent {
	return MessageEvent{Type: EventMessage, Message: msg}
}

func NewPongEvent() PongEvent {
	return PongEvent{Type: EventPong}
}
