package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/jhomra21/canvaschat/internal/repository"
	"github.com/jhomra21/canvaschat/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewInMemoryMessageLog()
	room := service.NewRoom("global", store, service.DefaultRoomConfig(), nil)
	controller := NewChatController(room, 50, nil)

	return SetupRouter(controller, AuthMiddleware(testSecret), []string{"http://localhost:3000"})
}

func signTestToken(t *testing.T, userID, userName string) string {
	t.Helper()
	token, err := SignSession(testSecret, domain.Identity{UserID: userID, UserName: userName}, time.Hour)
	require.NoError(t, err)
	return token
}

func TestHistoryRequiresSession(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistoryRejectsBadToken(t *testing.T) {
	router := newTestRouter(t)

	forged, err := SignSession("wrong-secret", domain.Identity{UserID: "user-a", UserName: "Alice"}, time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistoryRejectsExpiredToken(t *testing.T) {
	router := newTestRouter(t)

	expired, err := SignSession(testSecret, domain.Identity{UserID: "user-a", UserName: "Alice"}, -time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistoryReturnsJSONArrayWithCacheHeaders(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-a", "Alice"))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, must-revalidate", rec.Header().Get("Cache-Control"))

	var messages []*domain.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	assert.Empty(t, messages)
}

func TestWSRequiresUpgrade(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-a", "Alice"))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWSRequiresSession(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// event mirrors the wire shape for test decoding.
type event struct {
	Type           string              `json:"type"`
	Message        *domain.ChatMessage `json:"message"`
	Count          int                 `json:"count"`
	ConnectedUsers []domain.Identity   `json:"connectedUsers"`
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestChatRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws?token="

	alice, resp, err := websocket.DefaultDialer.Dial(base+signTestToken(t, "user-a", "Alice"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer alice.Close()

	// Joining yields a presence snapshot and the own join notice, never
	// any history replay.
	ev := readEvent(t, alice)
	assert.Equal(t, domain.EventUserCount, ev.Type)
	assert.Equal(t, 1, ev.Count)

	ev = readEvent(t, alice)
	require.Equal(t, domain.EventMessage, ev.Type)
	assert.Equal(t, "Alice joined the chat", ev.Message.Content)

	bob, bobResp, err := websocket.DefaultDialer.Dial(base+signTestToken(t, "user-b", "Bob"), nil)
	require.NoError(t, err)
	defer bobResp.Body.Close()
	defer bob.Close()

	// Alice observes Bob's arrival.
	ev = readEvent(t, alice)
	assert.Equal(t, domain.EventUserCount, ev.Type)
	assert.Equal(t, 2, ev.Count)
	ev = readEvent(t, alice)
	require.Equal(t, domain.EventMessage, ev.Type)
	assert.Equal(t, "Bob joined the chat", ev.Message.Content)

	// Drain Bob's own join events.
	readEvent(t, bob)
	readEvent(t, bob)

	require.NoError(t, alice.WriteJSON(domain.ClientFrame{Type: domain.EventMessage, Content: "hello bob"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		ev = readEvent(t, conn)
		require.Equal(t, domain.EventMessage, ev.Type)
		assert.Equal(t, "hello bob", ev.Message.Content)
		assert.Equal(t, "user-a", ev.Message.UserID)
	}

	// History over plain HTTP reflects the conversation so far.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/chat/history", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-b", "Bob"))
	histResp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer histResp.Body.Close()

	require.Equal(t, http.StatusOK, histResp.StatusCode)
	var history []*domain.ChatMessage
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&history))

	var contents []string
	for _, msg := range history {
		contents = append(contents, msg.Content)
	}
	assert.Contains(t, contents, "hello bob")
	assert.Contains(t, contents, "Alice joined the chat")
}

func TestPingPongOverWire(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws?token=" + signTestToken(t, "user-a", "Alice")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	readEvent(t, conn) // presence
	readEvent(t, conn) // join notice

	require.NoError(t, conn.WriteJSON(domain.ClientFrame{Type: domain.EventPing}))
	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventPong, ev.Type)
}

func TestAuthMiddlewareSetsIdentityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(testSecret))
	router.GET("/whoami", func(ctx *gin.Context) {
		identity, ok := GetIdentity(ctx)
		require.True(t, ok)
		ctx.JSON(http.StatusOK, gin.H{
			"id":     identity.UserID,
			"header": ctx.Request.Header.Get("X-User-Id"),
		})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-a", "Alice"))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user-a", body["id"])
	assert.Equal(t, "user-a", body["header"])
}
