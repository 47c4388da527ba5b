package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig("ws://unused", "http://unused", "token")
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 40 * time.Millisecond
	return cfg
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffFactor: 2, BackoffMax: 30 * time.Second}

	assert.Equal(t, time.Second, Backoff(cfg, 0))
	assert.Equal(t, 2*time.Second, Backoff(cfg, 1))
	assert.Equal(t, 4*time.Second, Backoff(cfg, 2))
	assert.Equal(t, 16*time.Second, Backoff(cfg, 4))
	assert.Equal(t, 30*time.Second, Backoff(cfg, 5))
	assert.Equal(t, 30*time.Second, Backoff(cfg, 20))
}

func TestMergeDeduplicatesByID(t *testing.T) {
	c := New(testConfig(), nil)

	msg := &domain.ChatMessage{ID: "m1", Content: "hello", Timestamp: 100}
	c.dispatch(serverEvent{Type: domain.EventMessage, Message: msg})
	c.dispatch(serverEvent{Type: domain.EventMessage, Message: msg})

	assert.Len(t, c.Messages(), 1)
}

func TestMergeKeepsTimestampOrder(t *testing.T) {
	c := New(testConfig(), nil)

	for _, m := range []*domain.ChatMessage{
		{ID: "m3", Timestamp: 300},
		{ID: "m1", Timestamp: 100},
		{ID: "m2", Timestamp: 200},
	} {
		c.dispatch(serverEvent{Type: domain.EventMessage, Message: m})
	}

	messages := c.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
	assert.Equal(t, "m3", messages[2].ID)
}

func TestCacheEvictsOldestPastLimit(t *testing.T) {
	cfg := testConfig()
	cfg.CacheLimit = 3
	c := New(cfg, nil)

	for i := 1; i <= 5; i++ {
		c.dispatch(serverEvent{Type: domain.EventMessage, Message: &domain.ChatMessage{
			ID:        string(rune('a' + i)),
			Timestamp: int64(i * 100),
		}})
	}

	messages := c.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, int64(300), messages[0].Timestamp)
	assert.Equal(t, int64(500), messages[2].Timestamp)
}

func TestPresenceUpdatesRoster(t *testing.T) {
	c := New(testConfig(), nil)

	c.dispatch(serverEvent{
		Type:  domain.EventUserCount,
		Count: 2,
		ConnectedUsers: []domain.Identity{
			{UserID: "user-a", UserName: "Alice"},
			{UserID: "user-b", UserName: "Bob"},
		},
	})

	assert.Equal(t, 2, c.UserCount())
	require.Len(t, c.Roster(), 2)
	assert.Equal(t, "Alice", c.Roster()[0].UserName)
}

func TestRateLimitEventBlocksSend(t *testing.T) {
	c := New(testConfig(), nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	c.dispatch(serverEvent{Type: domain.EventRateLimit, RetryAfterMs: 5000})

	err := c.Send("blocked")
	require.ErrorIs(t, err, ErrCoolingDown)
	assert.Equal(t, 5*time.Second, c.CooldownRemaining())

	// Past the cooldown the refusal lifts; the client just is not connected.
	current = base.Add(6 * time.Second)
	assert.Zero(t, c.CooldownRemaining())
	assert.ErrorIs(t, c.Send("after"), ErrNotConnected)
}

func TestSendRequiresConnection(t *testing.T) {
	c := New(testConfig(), nil)
	assert.ErrorIs(t, c.Send("hello"), ErrNotConnected)
}

// chatServer is a minimal room endpoint for wiring tests: it upgrades,
// counts connections, and echoes posted messages back as message events.
func chatServer(t *testing.T, upgrades *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades.Add(1)
		defer conn.Close()

		seq := 0
		for {
			var frame domain.ClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type != domain.EventMessage {
				continue
			}
			seq++
			_ = conn.WriteJSON(serverEvent{Type: domain.EventMessage, Message: &domain.ChatMessage{
				ID:        frame.Content,
				Content:   frame.Content,
				Timestamp: int64(seq),
			}})
		}
	}))
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConnectIsIdempotent(t *testing.T) {
	var upgrades atomic.Int32
	srv := chatServer(t, &upgrades)
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = wsAddr(srv)
	c := New(cfg, nil)
	defer c.Disconnect()

	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())

	waitFor(t, func() bool { return c.State() == StateConnected })
	assert.Equal(t, int32(1), upgrades.Load())
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	var upgrades atomic.Int32
	srv := chatServer(t, &upgrades)
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = wsAddr(srv)
	c := New(cfg, nil)
	defer c.Disconnect()

	require.NoError(t, c.Connect())
	waitFor(t, func() bool { return c.State() == StateConnected })

	require.NoError(t, c.Send("hello"))
	waitFor(t, func() bool { return len(c.Messages()) == 1 })
	assert.Equal(t, "hello", c.Messages()[0].Content)
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	var upgrades atomic.Int32
	srv := chatServer(t, &upgrades)
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = wsAddr(srv)
	c := New(cfg, nil)

	require.NoError(t, c.Connect())
	waitFor(t, func() bool { return c.State() == StateConnected })

	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())

	// Plenty of time for a stray backoff timer to fire.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, int32(1), upgrades.Load())
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	var upgrades atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	// First connection is dropped abruptly; later ones stay open.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := upgrades.Add(1)
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = wsAddr(srv)
	c := New(cfg, nil)
	defer c.Disconnect()

	require.NoError(t, c.Connect())
	waitFor(t, func() bool { return upgrades.Load() >= 2 && c.State() == StateConnected })

	// A successful reconnect resets the attempt counter.
	assert.Zero(t, c.Attempts())
}

func TestFetchHistoryMergesIntoCache(t *testing.T) {
	history := []*domain.ChatMessage{
		{ID: "m1", Content: "first", Timestamp: 100},
		{ID: "m2", Content: "second", Timestamp: 200},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(history)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.HistoryURL = srv.URL
	c := New(cfg, nil)

	// A live event that also appears in history must not duplicate.
	c.dispatch(serverEvent{Type: domain.EventMessage, Message: history[1]})

	require.NoError(t, c.FetchHistory(context.Background()))

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
}

func TestFetchHistoryRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.HistoryURL = srv.URL
	cfg.Token = "wrong"
	c := New(cfg, nil)

	assert.Error(t, c.FetchHistory(context.Background()))
}
