package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/auth"
	"github.com/xiaot623/gogo/realtime/internal/config"
	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/notify"
	"github.com/xiaot623/gogo/realtime/internal/policy"
	"github.com/xiaot623/gogo/realtime/internal/presence"
	"github.com/xiaot623/gogo/realtime/internal/repository"
	"github.com/xiaot623/gogo/realtime/internal/service"
	"github.com/xiaot623/gogo/realtime/internal/testutil/helpers"
)

const testSecret = "test-secret"

type testServer struct {
	url   string
	store *store.SQLiteStore
	hub   *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	logger := zap.NewNop()
	s := helpers.NewTestSQLiteStore(t)
	h := hub.NewHub(logger)
	go h.Run(ctx)

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)
	tracker := presence.NewTracker(s, logger, presence.WithScheduler(helpers.NewManualScheduler()))
	svc := service.New(s, h, engine, tracker, notify.NewDispatcher(notify.Nop{}, time.Second, logger), cfg, logger)

	verifier, err := auth.NewJWTVerifier(testSecret, "")
	require.NoError(t, err)
	authn := auth.NewAuthenticator(verifier, auth.NewTokenCache(cfg.AuthCacheTTL()), logger)

	e := echo.New()
	NewServer(cfg, authn, svc, logger).Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", store: s, hub: h}
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

func token(t *testing.T, id string, role domain.Role) string {
	return helpers.SignToken(t, testSecret, domain.Principal{ID: id, Email: id + "@example.com", Role: role}, time.Hour)
}

// dial connects with the credential in the Authorization header.
func (ts *testServer) dial(t *testing.T, id string, role domain.Role) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + token(t, id, role)}}
	c, _, err := websocket.DefaultDialer.Dial(ts.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	readUntil(t, c, "connected")
	return c
}

func readUntil(t *testing.T, c *websocket.Conn, eventType string) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var fr frame
		require.NoError(t, c.ReadJSON(&fr))
		if fr.Type == eventType {
			return fr
		}
	}
}

func TestHandshakeRequiresCredential(t *testing.T) {
	ts := newTestServer(t)

	for name, header := range map[string]http.Header{
		"missing": nil,
		"garbage": {"Authorization": []string{"Bearer not-a-jwt"}},
		"expired": {"Authorization": []string{"Bearer " + helpers.SignToken(t, testSecret,
			domain.Principal{ID: "A", Role: domain.RoleBuyer}, -time.Minute)}},
	} {
		_, resp, err := websocket.DefaultDialer.Dial(ts.url, header)
		require.Error(t, err, name)
		require.NotNil(t, resp, name)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(body), string(domain.CodeAuthentication), name)
	}
	assert.Zero(t, ts.hub.Stats().Connections)
}

func TestTokenQueryParameter(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token(t, "B", domain.RoleSeller), nil)
	require.NoError(t, err)
	defer c.Close()

	var connected struct {
		Principal domain.Principal `json:"principal"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, c, "connected").Data, &connected))
	assert.Equal(t, "B", connected.Principal.ID)
	assert.Equal(t, domain.RoleSeller, connected.Principal.Role)
}

func TestConversationOverWebSocket(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.CreateConversation(context.Background(), &domain.Conversation{
		ID: "C1", Participants: []string{"A", "B"}, CreatedAt: time.Now(),
	}))
	a := ts.dial(t, "A", domain.RoleBuyer)
	b := ts.dial(t, "B", domain.RoleSeller)

	for _, c := range []*websocket.Conn{a, b} {
		require.NoError(t, c.WriteJSON(map[string]string{"type": "join_conversation", "conversationId": "C1", "requestId": "j1"}))
		assert.Equal(t, "j1", readUntil(t, c, "joined").RequestID)
	}

	require.NoError(t, a.WriteJSON(map[string]string{"type": "send_message", "conversationId": "C1", "content": "hello"}))
	var msg domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, b, "new_message").Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "A", msg.SenderID)

	require.NoError(t, b.WriteJSON(map[string]string{"type": "mark_as_read", "conversationId": "C1"}))
	var read struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, a, "messages_read").Data, &read))
	assert.Equal(t, 1, read.Count)
}

func TestRejectedEventsBecomeErrorFrames(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t, "A", domain.RoleBuyer)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	fr := readUntil(t, a, "error")
	assert.Equal(t, string(domain.CodeValidation), fr.Code)

	require.NoError(t, a.WriteJSON(map[string]string{"type": "dance"}))
	fr = readUntil(t, a, "error")
	assert.Equal(t, string(domain.CodeValidation), fr.Code)

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join_conversation", "conversationId": "nope", "requestId": "r7"}))
	fr = readUntil(t, a, "error")
	assert.Equal(t, string(domain.CodeNotFound), fr.Code)
	assert.Equal(t, "r7", fr.RequestID)
	assert.NotEmpty(t, fr.Message)

	// the connection survives rejected events
	require.NoError(t, a.WriteJSON(map[string]string{"type": "leave_conversation", "conversationId": "nope", "requestId": "r8"}))
	assert.Equal(t, "r8", readUntil(t, a, "left").RequestID)
}

func TestCloseUnregisters(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t, "A", domain.RoleBuyer)
	ts.dial(t, "B", domain.RoleBuyer)
	require.Equal(t, 2, ts.hub.Stats().Connections)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return ts.hub.Stats().Connections == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, ts.hub.IsOnline("A"))
	assert.True(t, ts.hub.IsOnline("B"))
}
