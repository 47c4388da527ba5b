package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/jhomra21/canvaschat/internal/service"
	"github.com/jhomra21/canvaschat/lib/logger/sl"
)

// maxFrameBytes bounds raw inbound frames at the transport. It is above
// the 2000-character content limit so oversized content still reaches the
// room and gets the policy-violation close rather than an opaque drop.
const maxFrameBytes = 16 << 10

type ChatController struct {
	room        service.RoomCoordinator
	historyPage int
	log         *slog.Logger
	upgrader    websocket.Upgrader
}

func NewChatController(room service.RoomCoordinator, historyPage int, log *slog.Logger) *ChatController {
	if log == nil {
		log = slog.Default()
	}
	return &ChatController{
		room:        room,
		historyPage: historyPage,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// History serves the most recent messages as a plain JSON array. The
// response is cacheable per-user only and always revalidated, so browsers
// never show one user's history to another and proxies stay out of it.
func (c *ChatController) History(ctx *gin.Context) {
	if _, ok := GetIdentity(ctx); !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	messages, err := c.room.History(ctx.Request.Context(), c.historyPage)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	ctx.Header("Cache-Control", "private, must-revalidate")
	ctx.JSON(http.StatusOK, messages)
}

// Connect upgrades the request and hands the socket to the room, then runs
// the read loop until the socket dies.
func (c *ChatController) Connect(ctx *gin.Context) {
	const op = "api.chat.connect"

	identity, ok := GetIdentity(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if !strings.EqualFold(ctx.GetHeader("Upgrade"), "websocket") {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Error("upgrade failed", slog.String("op", op), sl.Err(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	record, err := c.room.Join(context.Background(), identity, conn)
	if err != nil {
		c.log.Error("join failed", slog.String("op", op), sl.Err(err))
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		_ = conn.Close()
		return
	}

	c.readLoop(conn, record)
}

func (c *ChatController) readLoop(conn *websocket.Conn, record *domain.Connection) {
	const op = "api.chat.read"

	for {
		var frame domain.ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			// A received close frame is a deliberate leave; anything else
			// is a transport failure and gets no "left" notice.
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.room.Leave(context.Background(), record.ID)
			} else {
				c.room.Fail(context.Background(), record.ID)
			}
			_ = conn.Close()
			return
		}

		if err := c.room.HandleFrame(context.Background(), record.ID, frame); err != nil {
			if !errors.Is(err, service.ErrConnectionClosed) {
				c.log.Error("frame handling failed", slog.String("op", op), sl.Err(err))
				c.room.Fail(context.Background(), record.ID)
				_ = conn.Close()
			}
			return
		}
	}
}
