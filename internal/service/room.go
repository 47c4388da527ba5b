package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/jhomra21/canvaschat/internal/repository"
	"github.com/jhomra21/canvaschat/lib/logger/sl"
)

var (
	ErrIdentityRequired   = errors.New("identity is required")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectionNotFound = errors.New("connection not found")
)

type RoomConfig struct {
	HistoryLimit int
	RateWindow   time.Duration
	RateLimit    int
	PruneDelay   time.Duration
	IdleAfter    time.Duration
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		HistoryLimit: 100,
		RateWindow:   10 * time.Second,
		RateLimit:    10,
		PruneDelay:   5 * time.Minute,
		IdleAfter:    15 * time.Minute,
	}
}

// Room is the single authoritative owner of one chat room: membership,
// message ordering, persistence, rate limiting and broadcast. One mutex
// serializes every inbound event, reproducing single-threaded actor
// delivery; in-memory state is a cache over the message log and is rebuilt
// lazily on the first event after construction.
type Room struct {
	name  string
	store repository.MessageLog
	cfg   RoomConfig
	log   *slog.Logger

	mu       sync.Mutex
	hydrated bool
	conns    map[string]*domain.Connection
	rates    map[string]*rateState
	order    []string // connection ids in join order
	messages []*domain.ChatMessage
	notices  []*domain.ChatMessage
	lastTS   int64

	alarm alarm
	now   func() time.Time
}

func NewRoom(name string, store repository.MessageLog, cfg RoomConfig, log *slog.Logger) *Room {
	if log == nil {
		log = slog.Default()
	}
	return &Room{
		name:  name,
		store: store,
		cfg:   cfg,
		log:   log,
		conns: make(map[string]*domain.Connection),
		rates: make(map[string]*rateState),
		now:   time.Now,
	}
}

// Join registers an accepted socket: creates its connection and rate
// records, broadcasts the updated presence snapshot, then persists and
// broadcasts a system "joined" notice. No history is replayed over the
// socket; history is served by the separate read path.
func (r *Room) Join(ctx context.Context, identity domain.Identity, socket domain.Socket) (*domain.Connection, error) {
	const op = "service.room.join"

	if !identity.Valid() {
		return nil, ErrIdentityRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.hydrateLocked(ctx); err != nil {
		return nil, err
	}

	conn := domain.NewConnection(identity, socket)
	r.conns[conn.ID] = conn
	r.rates[conn.ID] = &rateState{}
	r.order = append(r.order, conn.ID)

	r.broadcastAndSweepLocked(r.presenceLocked())

	joined := domain.NewSystemMessage(identity.UserName+" joined the chat", r.tickLocked())
	r.notices = appendCapped(r.notices, joined, r.cfg.HistoryLimit)
	if err := r.store.Put(ctx, repository.NamespaceSystem, joined); err != nil {
		// Durability of join notices never blocks the live experience.
		r.log.Error("failed to persist join notice", slog.String("op", op), sl.Err(err))
	}
	r.broadcastAndSweepLocked(domain.NewMessageEvent(joined))
	r.schedulePrune()

	r.log.Info("connection joined",
		slog.String("op", op),
		slog.String("room", r.name),
		slog.String("conn_id", conn.ID),
		slog.String("user_id", identity.UserID),
		slog.Int("connections", len(r.conns)),
	)
	return conn, nil
}

// HandleFrame processes one inbound text frame from the given connection.
// It returns ErrConnectionClosed when the connection was closed as a
// result of the frame (or is already gone) so the read loop can stop.
func (r *Room) HandleFrame(ctx context.Context, connID string, frame domain.ClientFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.hydrateLocked(ctx); err != nil {
		return err
	}

	conn, ok := r.conns[connID]
	if !ok {
		return ErrConnectionClosed
	}

	switch frame.Type {
	case domain.EventPing:
		if err := conn.Socket.WriteJSON(domain.NewPongEvent()); err != nil {
			r.sweepLocked(connID)
			return ErrConnectionClosed
		}
		return nil
	case domain.EventMessage:
		return r.handlePostLocked(ctx, conn, frame.Content)
	default:
		// Unknown frame types are ignored.
		return nil
	}
}

func (r *Room) handlePostLocked(ctx context.Context, conn *domain.Connection, raw string) error {
	const op = "service.room.post"

	now := r.now()
	rs := r.rates[conn.ID]

	if rs.inCooldown(now) {
		return nil
	}

	if ok, retryAfter := rs.allow(now, r.cfg.RateWindow, r.cfg.RateLimit); !ok {
		notice := domain.RateLimitEvent{
			Type:         domain.EventRateLimit,
			RetryAfterMs: retryAfter.Milliseconds(),
			Limit:        r.cfg.RateLimit,
			WindowMs:     r.cfg.RateWindow.Milliseconds(),
		}
		if err := conn.Socket.WriteJSON(notice); err != nil {
			r.sweepLocked(conn.ID)
			return ErrConnectionClosed
		}
		return nil
	}

	content, err := domain.ValidateContent(raw)
	if err != nil {
		if errors.Is(err, domain.ErrContentTooLong) {
			// Oversized content is a policy violation: close the socket
			// instead of just dropping the message.
			r.log.Warn("closing connection for oversized message",
				slog.String("op", op),
				slog.String("conn_id", conn.ID),
				slog.String("user_id", conn.Identity.UserID),
			)
			r.closeTooBigLocked(conn)
			r.leaveLocked(ctx, conn.ID, true)
			return ErrConnectionClosed
		}
		// Empty content is likely a client bug; drop without an error frame.
		return nil
	}

	msg := domain.NewChatMessage(conn.Identity, content, r.tickLocked())
	r.messages = appendCapped(r.messages, msg, r.cfg.HistoryLimit)

	// The put is awaited before broadcasting so an acknowledged message
	// cannot be lost to an eviction; a storage outage only degrades
	// durability, never the live feed.
	if err := r.store.Put(ctx, repository.NamespaceChat, msg); err != nil {
		r.log.Error("failed to persist message", slog.String("op", op), sl.Err(err))
	}
	r.schedulePrune()
	r.broadcastAndSweepLocked(domain.NewMessageEvent(msg))
	return nil
}

// Leave handles a socket close: drops the connection's records, broadcasts
// the updated presence snapshot and a system "left" notice.
func (r *Room) Leave(ctx context.Context, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.hydrateLocked(ctx); err != nil {
		r.log.Error("hydration failed during leave", sl.Err(err))
	}
	r.leaveLocked(ctx, connID, true)
}

// Fail handles a socket error: same table cleanup as Leave but without the
// "left" notice, since the transport will separately report the close.
func (r *Room) Fail(ctx context.Context, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(ctx, connID, false)
}

// History returns up to limit most recent messages, chat and system
// notices merged in timestamp order. The result is a point-in-time
// snapshot, not a live view.
func (r *Room) History(ctx context.Context, limit int) ([]*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.hydrateLocked(ctx); err != nil {
		return nil, err
	}

	merged := mergeByTimestamp(r.messages, r.notices)
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}

	result := make([]*domain.ChatMessage, len(merged))
	copy(result, merged)
	return result, nil
}

// hydrateLocked is the cold-start gate: the first event after construction
// reloads the newest retained messages per namespace before anything else
// runs. A failed hydration is retried on the next event.
func (r *Room) hydrateLocked(ctx context.Context) error {
	const op = "service.room.hydrate"

	if r.hydrated {
		return nil
	}

	messages, err := r.store.Newest(ctx, repository.NamespaceChat, r.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	notices, err := r.store.Newest(ctx, repository.NamespaceSystem, r.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	r.messages = messages
	r.notices = notices
	if n := len(messages); n > 0 && messages[n-1].Timestamp > r.lastTS {
		r.lastTS = messages[n-1].Timestamp
	}
	if n := len(notices); n > 0 && notices[n-1].Timestamp > r.lastTS {
		r.lastTS = notices[n-1].Timestamp
	}
	r.hydrated = true

	r.log.Info("room hydrated",
		slog.String("op", op),
		slog.String("room", r.name),
		slog.Int("messages", len(messages)),
		slog.Int("notices", len(notices)),
	)
	return nil
}

func (r *Room) leaveLocked(ctx context.Context, connID string, notify bool) {
	const op = "service.room.leave"

	conn, ok := r.conns[connID]
	if !ok {
		return
	}

	identity := conn.Identity
	r.dropLocked(connID)
	r.broadcastAndSweepLocked(r.presenceLocked())

	if !notify {
		return
	}

	left := domain.NewSystemMessage(identity.UserName+" left the chat", r.tickLocked())
	r.notices = appendCapped(r.notices, left, r.cfg.HistoryLimit)
	if err := r.store.Put(ctx, repository.NamespaceSystem, left); err != nil {
		r.log.Error("failed to persist leave notice", slog.String("op", op), sl.Err(err))
	}
	r.broadcastAndSweepLocked(domain.NewMessageEvent(left))
	r.schedulePrune()
}

// dropLocked removes the connection from the membership tables and closes
// its socket. It never broadcasts.
func (r *Room) dropLocked(connID string) {
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	delete(r.rates, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	_ = conn.Socket.Close()
}

// sweepLocked drops a dead connection and tells the remaining members the
// presence changed.
func (r *Room) sweepLocked(connID string) {
	r.dropLocked(connID)
	for _, id := range r.broadcastLocked(r.presenceLocked()) {
		r.dropLocked(id)
	}
}

// broadcastLocked writes the event to every live socket in join order and
// returns the ids whose write failed. Fan-out is fire-and-forget.
func (r *Room) broadcastLocked(event any) []string {
	var dead []string
	for _, id := range r.order {
		if err := r.conns[id].Socket.WriteJSON(event); err != nil {
			dead = append(dead, id)
		}
	}
	return dead
}

// broadcastAndSweepLocked broadcasts, then treats every failed write as an
// implicit close: the socket is removed inline and a single presence
// update announces the shrunken membership.
func (r *Room) broadcastAndSweepLocked(event any) {
	dead := r.broadcastLocked(event)
	if len(dead) == 0 {
		return
	}
	for _, id := range dead {
		r.dropLocked(id)
	}
	for _, id := range r.broadcastLocked(r.presenceLocked()) {
		r.dropLocked(id)
	}
}

func (r *Room) presenceLocked() domain.PresenceEvent {
	users := make([]domain.Identity, 0, len(r.order))
	seen := make(map[string]struct{}, len(r.order))
	for _, id := range r.order {
		identity := r.conns[id].Identity
		if _, dup := seen[identity.UserID]; dup {
			continue
		}
		seen[identity.UserID] = struct{}{}
		users = append(users, identity)
	}
	return domain.PresenceEvent{
		Type:           domain.EventUserCount,
		Count:          len(r.conns),
		ConnectedUsers: users,
	}
}

func (r *Room) closeTooBigLocked(conn *domain.Connection) {
	deadline := r.now().Add(time.Second)
	data := websocket.FormatCloseMessage(websocket.CloseMessageTooBig, "message exceeds 2000 characters")
	_ = conn.Socket.WriteControl(websocket.CloseMessage, data, deadline)
}

// tickLocked assigns the next message timestamp. Receipt time is the
// ordering key; a same-millisecond collision is bumped forward so storage
// keys stay unique and key order stays chronological.
func (r *Room) tickLocked() int64 {
	ts := r.now().UnixMilli()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	r.lastTS = ts
	return ts
}

func (r *Room) schedulePrune() {
	r.alarm.Schedule(r.cfg.PruneDelay, func() {
		r.prune(context.Background())
	})
}

// prune trims both namespaces down to the retained newest entries. It runs
// off the hot path, never takes the room lock, and re-arms itself only
// while the room has seen recent traffic, so an abandoned room stops
// waking up.
func (r *Room) prune(ctx context.Context) {
	const op = "service.room.prune"
	log := r.log.With(slog.String("op", op), slog.String("room", r.name))

	for _, namespace := range repository.Namespaces {
		deleted, err := r.store.Prune(ctx, namespace, r.cfg.HistoryLimit)
		if err != nil {
			log.Error("prune failed", slog.String("namespace", namespace), sl.Err(err))
			continue
		}
		if deleted > 0 {
			log.Info("pruned stale entries", slog.String("namespace", namespace), slog.Int("deleted", deleted))
		}
	}

	newest, err := r.store.NewestTimestamp(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNoMessages) {
			log.Error("failed to read newest timestamp", sl.Err(err))
		}
		return
	}
	if r.now().Sub(time.UnixMilli(newest)) < r.cfg.IdleAfter {
		r.schedulePrune()
	}
}

func appendCapped(history []*domain.ChatMessage, msg *domain.ChatMessage, limit int) []*domain.ChatMessage {
	history = append(history, msg)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func mergeByTimestamp(a, b []*domain.ChatMessage) []*domain.ChatMessage {
	merged := make([]*domain.ChatMessage, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Timestamp <= b[j].Timestamp {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}
