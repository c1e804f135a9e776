package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echolink/internal/auth"
	"github.com/lalith-99/echolink/internal/events"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/lalith-99/echolink/internal/notify"
	"github.com/lalith-99/echolink/internal/presence"
	"github.com/lalith-99/echolink/internal/push"
	"github.com/lalith-99/echolink/internal/realtime"
	"github.com/lalith-99/echolink/internal/relay"
	"github.com/lalith-99/echolink/internal/repository/memory"
	"github.com/lalith-99/echolink/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type recordingPusher struct {
	mu   sync.Mutex
	sent []push.Notification
}

func (r *recordingPusher) Dispatch(_ context.Context, n push.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recordingPusher) Sent() []push.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Notification(nil), r.sent...)
}

type failingHealth struct{}

func (failingHealth) Health(context.Context) error { return errors.New("db down") }

type env struct {
	router        *gin.Engine
	users         *memory.UserStore
	messages      *memory.MessageStore
	notifications *memory.NotificationStore
	registry      *presence.Registry
	hub           *realtime.Hub
	offline       *recordingPusher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	users := memory.NewUserStore()
	messages := memory.NewMessageStore()
	notifications := memory.NewNotificationStore()

	hub := realtime.NewHub("n1", logger)
	t.Cleanup(hub.Close)
	registry := presence.NewRegistry(presence.NewMemoryStore(), hub, logger)
	router := presence.NewRouter(registry, hub, logger)

	relayer := relay.New(messages, router, logger)
	fanout := notify.New(notifications, users, router, logger)
	offline := &recordingPusher{}
	dispatcher := realtime.NewDispatcher(registry, relayer, signaling.New(router, logger), fanout, offline, logger)

	r := NewRouter(testSecret, Handlers{
		Auth:          NewAuthHandler(users, testSecret, time.Hour, logger),
		Users:         NewUserHandler(users, logger),
		Messages:      NewMessageHandler(relayer, offline, logger),
		Notifications: NewNotificationHandler(fanout, offline, logger),
		Presence:      NewPresenceHandler(registry, logger),
		Sockets:       NewSocketHandler(realtime.NewServer(hub, dispatcher, nil, logger)),
	})

	return &env{
		router:        r,
		users:         users,
		messages:      messages,
		notifications: notifications,
		registry:      registry,
		hub:           hub,
		offline:       offline,
	}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// signup creates a user and returns its id and token.
func (e *env) signup(t *testing.T, email, name string) (uuid.UUID, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/auth/signup", "", gin.H{
		"email": email, "password": "password123", "display_name": name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.UserID)
	require.NoError(t, err)
	return id, resp.Token
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	gin.SetMode(gin.TestMode)
	down := NewRouter(testSecret, Handlers{Auth: &AuthHandler{}, Health: failingHealth{}})
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSignupLogin(t *testing.T) {
	e := newEnv(t)
	id, token := e.signup(t, "ada@example.com", "Ada")

	claims, err := auth.ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/v1/auth/signup", "", gin.H{
			"email": "ADA@example.com", "password": "password123", "display_name": "Other",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("short password", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/v1/auth/signup", "", gin.H{
			"email": "b@example.com", "password": "short", "display_name": "B",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("login", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "password123"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), id.String())
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong := e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "nope-nope"})
		unknown := e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "who@example.com", "password": "nope-nope"})
		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	})
}

func TestGetMe(t *testing.T) {
	e := newEnv(t)
	id, token := e.signup(t, "ada@example.com", "Ada")

	w := e.do(t, http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var u models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.NotContains(t, w.Body.String(), "password")

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/users/me", "", nil).Code)

	ghost, err := auth.GenerateToken(uuid.New(), "ghost@example.com", testSecret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/users/me", ghost, nil).Code)
}

func TestSendMessage_OfflineRecipient(t *testing.T) {
	e := newEnv(t)
	alice, token := e.signup(t, "alice@example.com", "Alice")
	bob, bobToken := e.signup(t, "bob@example.com", "Bob")

	w := e.do(t, http.MethodPost, "/v1/messages", token, gin.H{"recipient_id": bob, "text": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp sendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Delivered)
	assert.Equal(t, alice, resp.Message.SenderID)
	assert.Equal(t, "hi", resp.Message.Body)

	sent := e.offline.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, bob, sent[0].UserID)

	// Bob reads it later.
	w = e.do(t, http.MethodGet, "/v1/conversations/"+alice.String()+"/messages", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, resp.Message.ID, hist.Messages[0].ID)
}

func TestSendMessage_Validation(t *testing.T) {
	e := newEnv(t)
	alice, token := e.signup(t, "alice@example.com", "Alice")

	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/v1/messages", token, gin.H{"recipient_id": alice, "text": "me"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/v1/messages", token, gin.H{"recipient_id": uuid.New()}).Code)
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/v1/messages", token, gin.H{"recipient_id": uuid.New(), "text": strings.Repeat("x", relay.MaxTextLength+1)}).Code)
	assert.Zero(t, e.messages.Len())
}

func TestSendMessage_StoreDown(t *testing.T) {
	e := newEnv(t)
	_, token := e.signup(t, "alice@example.com", "Alice")
	e.messages.Fail(true)

	w := e.do(t, http.MethodPost, "/v1/messages", token, gin.H{"recipient_id": uuid.New(), "text": "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), memory.ErrUnavailable.Error())
	assert.Empty(t, e.offline.Sent())
}

func TestHistory_BadParams(t *testing.T) {
	e := newEnv(t)
	_, token := e.signup(t, "alice@example.com", "Alice")
	peer := uuid.NewString()

	for _, path := range []string{
		"/v1/conversations/not-a-uuid/messages",
		"/v1/conversations/" + peer + "/messages?limit=0",
		"/v1/conversations/" + peer + "/messages?limit=abc",
		"/v1/conversations/" + peer + "/messages?before=yesterday",
	} {
		assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, path, token, nil).Code, path)
	}

	w := e.do(t, http.MethodGet, "/v1/conversations/"+peer+"/messages?before="+time.Now().UTC().Format(time.RFC3339Nano), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	alice, aliceToken := e.signup(t, "alice@example.com", "Alice")
	_, bobToken := e.signup(t, "bob@example.com", "Bob")
	bob, err := auth.ParseToken(bobToken, testSecret)
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/v1/friend-requests", aliceToken, gin.H{"recipient_id": bob.UserID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Alice sent you a friend request")
	require.Len(t, e.offline.Sent(), 1)

	w = e.do(t, http.MethodGet, "/v1/notifications?unread=true", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	n := list.Notifications[0]
	assert.Equal(t, alice, n.SenderID)
	assert.Equal(t, models.NotificationFriendRequest, n.Type)

	// Alice can't mark Bob's notification.
	assert.Equal(t, http.StatusNotFound,
		e.do(t, http.MethodPost, "/v1/notifications/"+n.ID.String()+"/read", aliceToken, nil).Code)
	assert.Equal(t, http.StatusNoContent,
		e.do(t, http.MethodPost, "/v1/notifications/"+n.ID.String()+"/read", bobToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/v1/notifications/xyz/read", bobToken, nil).Code)

	w = e.do(t, http.MethodGet, "/v1/notifications?unread=true", bobToken, nil)
	assert.JSONEq(t, `{"notifications":[]}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/v1/notifications", bobToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	assert.True(t, list.Notifications[0].IsRead)

	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/v1/friend-requests", aliceToken, gin.H{"recipient_id": alice}).Code)
}

// TestSocketEndToEnd drives the socket through the real router: token on
// the query string, register, then a REST send lands on the socket.
func TestSocketEndToEnd(t *testing.T) {
	e := newEnv(t)
	alice, aliceToken := e.signup(t, "alice@example.com", "Alice")
	bob, bobToken := e.signup(t, "bob@example.com", "Bob")

	ts := httptest.NewServer(e.router)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+bobToken, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	raw, err := json.Marshal(events.RegisterUserPayload{UserID: bob})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(events.Envelope{Type: events.RegisterUser, Payload: raw}))
	require.Eventually(t, func() bool {
		return e.registry.IsOnline(context.Background(), bob)
	}, 2*time.Second, 10*time.Millisecond)

	w := e.do(t, http.MethodGet, "/v1/users/"+bob.String()+"/presence", aliceToken, nil)
	assert.JSONEq(t, `{"user_id":"`+bob.String()+`","online":true}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/v1/presence/online", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"users":["`+bob.String()+`"]}`, w.Body.String())

	w = e.do(t, http.MethodPost, "/v1/messages", aliceToken, gin.H{"recipient_id": bob, "text": "over rest"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"delivered":true`)
	assert.Empty(t, e.offline.Sent())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env events.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type != events.ReceiveMessage {
			continue
		}
		var p events.ReceiveMessagePayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, alice, p.Sender)
		assert.Equal(t, "over rest", p.Text)
		break
	}
}

type failingPresence struct{}

func (failingPresence) IsOnline(context.Context, uuid.UUID) bool { return false }

func (failingPresence) Online(context.Context) ([]uuid.UUID, error) {
	return nil, errors.New("redis down")
}

func TestListOnline(t *testing.T) {
	e := newEnv(t)
	_, token := e.signup(t, "ada@example.com", "Ada")

	w := e.do(t, http.MethodGet, "/v1/presence/online", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"users":[]}`, w.Body.String())

	r := gin.New()
	r.GET("/online", NewPresenceHandler(failingPresence{}, zap.NewNop()).ListOnline)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/online", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
