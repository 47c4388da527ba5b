package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/jhomra21/canvaschat/lib/logger/sl"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
	StateReconnecting State = "reconnecting"
)

var (
	ErrCoolingDown  = errors.New("rate limited, wait before sending")
	ErrNotConnected = errors.New("not connected")
)

type Config struct {
	URL           string
	HistoryURL    string
	Token         string
	PingInterval  time.Duration
	CacheLimit    int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
}

func DefaultConfig(url, historyURL, token string) Config {
	return Config{
		URL:           url,
		HistoryURL:    historyURL,
		Token:         token,
		PingInterval:  30 * time.Second,
		CacheLimit:    200,
		BackoffBase:   time.Second,
		BackoffFactor: 2,
		BackoffMax:    30 * time.Second,
	}
}

// Backoff computes the reconnect delay for the given attempt number:
// min(base * factor^attempts, max).
func Backoff(cfg Config, attempts int) time.Duration {
	delay := time.Duration(float64(cfg.BackoffBase) * math.Pow(cfg.BackoffFactor, float64(attempts)))
	if delay > cfg.BackoffMax || delay <= 0 {
		delay = cfg.BackoffMax
	}
	return delay
}

// serverEvent is the envelope every room-to-client frame fits into.
type serverEvent struct {
	Type           string              `json:"type"`
	Message        *domain.ChatMessage `json:"message,omitempty"`
	Count          int                 `json:"count,omitempty"`
	ConnectedUsers []domain.Identity   `json:"connectedUsers,omitempty"`
	RetryAfterMs   int64               `json:"retryAfterMs,omitempty"`
	Limit          int                 `json:"limit,omitempty"`
	WindowMs       int64               `json:"windowMs,omitempty"`
}

// Client owns exactly one WebSocket to the chat room, independent of any
// UI lifecycle. It reconnects with exponential backoff, keeps an ordered
// deduplicated message cache, and mirrors the server's rate-limit cooldown
// so hopeless sends never reach the network.
type Client struct {
	cfg   Config
	log   *slog.Logger
	dial  func(url string, header http.Header) (*websocket.Conn, *http.Response, error)
	httpc *http.Client

	mu            sync.Mutex
	state         State
	quality       string
	attempts      int
	gen           int
	conn          *websocket.Conn
	closing       bool
	cooldownUntil time.Time
	reconnect     *time.Timer

	messages  []*domain.ChatMessage
	seen      map[string]struct{}
	userCount int
	roster    []domain.Identity

	now func() time.Time
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		log:   log,
		state: StateIdle,
		seen:  make(map[string]struct{}),
		now:   time.Now,
		httpc: &http.Client{Timeout: 10 * time.Second},
		dial: func(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.Dial(url, header)
		},
	}
}

// Connect is idempotent: a no-op while already open or opening.
func (c *Client) Connect() error {
	const op = "client.connect"

	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	url := c.cfg.URL + "?token=" + c.cfg.Token
	c.mu.Unlock()

	conn, resp, err := c.dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log.Error("dial failed", slog.String("op", op), sl.Err(err))
		c.mu.Lock()
		c.state = StateError
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.state = StateConnected
	c.quality = "excellent"
	c.attempts = 0
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)

	c.log.Info("connected", slog.String("op", op))
	return nil
}

// Disconnect closes the socket with a normal closure; no reconnect is
// scheduled for a deliberate disconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.state = StateIdle
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := c.now().Add(time.Second)
		data := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, data, deadline)
		_ = conn.Close()
	}
}

// Send posts a chat message. It refuses locally while the mirrored
// rate-limit cooldown is active, surfacing the remaining wait.
func (c *Client) Send(content string) error {
	c.mu.Lock()
	if wait := c.cooldownUntil.Sub(c.now()); wait > 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s remaining", ErrCoolingDown, wait.Round(time.Second))
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(domain.ClientFrame{Type: domain.EventMessage, Content: content})
}

// FetchHistory loads recent history over plain HTTP and merges it into the
// same ordered cache the live socket feeds. The socket itself never
// replays history on (re)connect.
func (c *Client) FetchHistory(ctx context.Context) error {
	const op = "client.history"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HistoryURL, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var history []*domain.ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	for _, msg := range history {
		c.mergeLocked(msg)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Quality() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userCount
}

func (c *Client) Roster() []domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	roster := make([]domain.Identity, len(c.roster))
	copy(roster, c.roster)
	return roster
}

// Messages returns the cached feed in timestamp order.
func (c *Client) Messages() []*domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]*domain.ChatMessage, len(c.messages))
	copy(messages, c.messages)
	return messages
}

// CooldownRemaining reports how long Send will keep refusing, zero when
// sending is allowed.
func (c *Client) CooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := c.cooldownUntil.Sub(c.now()); wait > 0 {
		return wait
	}
	return 0
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	const op = "client.read"

	for {
		var event serverEvent
		if err := conn.ReadJSON(&event); err != nil {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			if c.closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.state = StateIdle
				c.mu.Unlock()
				return
			}
			c.log.Warn("connection lost", slog.String("op", op), sl.Err(err))
			c.state = StateDisconnected
			c.scheduleReconnectLocked()
			c.mu.Unlock()
			return
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event serverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case domain.EventMessage:
		if event.Message != nil {
			c.mergeLocked(event.Message)
		}
	case domain.EventUserCount:
		c.userCount = event.Count
		c.roster = event.ConnectedUsers
	case domain.EventRateLimit:
		c.cooldownUntil = c.now().Add(time.Duration(event.RetryAfterMs) * time.Millisecond)
	case domain.EventPong:
		// Liveness confirmation only.
	}
}

// mergeLocked inserts a message into the ordered cache, deduplicating by
// id and dropping the oldest entries past the cap.
func (c *Client) mergeLocked(msg *domain.ChatMessage) {
	if _, dup := c.seen[msg.ID]; dup {
		return
	}
	c.seen[msg.ID] = struct{}{}

	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].Timestamp > msg.Timestamp
	})
	c.messages = append(c.messages, nil)
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = msg

	for len(c.messages) > c.cfg.CacheLimit {
		delete(c.seen, c.messages[0].ID)
		c.messages = c.messages[1:]
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	const op = "client.ping"

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.gen != gen || c.conn != conn
		c.mu.Unlock()
		if stale {
			return
		}

		if err := conn.WriteJSON(domain.ClientFrame{Type: domain.EventPing}); err != nil {
			// A failed probe means the connection is dead even if the
			// read side has not noticed yet.
			c.log.Warn("liveness probe failed", slog.String("op", op), sl.Err(err))
			_ = conn.Close()
			return
		}
	}
}

// scheduleReconnectLocked arms a single backoff timer. Attempts only grow
// on closes that were not a deliberate disconnect.
func (c *Client) scheduleReconnectLocked() {
	if c.closing {
		return
	}

	delay := Backoff(c.cfg, c.attempts)
	c.attempts++
	c.state = StateReconnecting

	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		// Connect refuses to run while the state still says connecting
		// or connected, so reset first.
		if c.state == StateReconnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		_ = c.Connect()
	})

	c.log.Info("reconnect scheduled",
		slog.Int("attempt", c.attempts),
		slog.Duration("delay", delay),
	)
}
