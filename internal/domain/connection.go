package domain

import (
	"time"

	"github.com/google/uuid"
)

// Socket is the subset of *websocket.Conn the room writes to. Broadcast
// tests substitute their own implementation.
type Socket interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection is one live socket in the room. It exists only in memory and
// dies with the socket; only messages referencing its user are durable.
type Connection struct {
	ID       string
	Identity Identity
	Socket   Socket
	JoinedAt time.Time
}

func NewConnection(identity Identity, socket Socket) *Connection {
	return &Connection{
		ID:       uuid.New().String(),
		Identity: identity,
		Socket:   socket,
		JoinedAt: time.Now().UTC(),
	}
}
