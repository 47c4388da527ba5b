package service

import (
	"context"

	"github.com/jhomra21/canvaschat/internal/domain"
)

type RoomCoordinator interface {
	Join(ctx context.Context, identity domain.Identity, socket domain.Socket) (*domain.Connection, error)
	HandleFrame(ctx context.Context, connID string, frame domain.ClientFrame) error
	Leave(ctx context.Context, connID string)
	Fail(ctx context.Context, connID string)
	History(ctx context.Context, limit int) ([]*domain.ChatMessage, error)
}
