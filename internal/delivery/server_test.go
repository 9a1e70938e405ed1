package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/domain"
	"chat-relay/internal/infrastructure/database"
	"chat-relay/internal/notify"
	"chat-relay/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChatID int64 = -1001

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event domain.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type staticCoordinator struct {
	owner string
}

func (c staticCoordinator) InstanceID() string { return "node-a" }

func (c staticCoordinator) Claim(context.Context, string) (string, error) { return c.owner, nil }

func (c staticCoordinator) Renew(context.Context, []string) error { return nil }

func (c staticCoordinator) Release(context.Context, string) error { return nil }

type testEnv struct {
	server   *Server
	registry *chat.Registry
	notifier *recordingNotifier
}

func testConfig() *config.Config {
	return &config.Config{
		Port:        "0",
		Environment: "test",
		InstanceID:  "node-a",
		WSReadLimit: 16 * 1024,
		Telegram: config.TelegramConfig{
			BotToken:      "token",
			ChatID:        testChatID,
			WebhookSecret: "s3cret",
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open("sqlite::memory:", false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	n := &recordingNotifier{}
	r := chat.NewRegistry(database.NewMessageStore(db), n, logger.NewNop(), chat.Options{IdleTimeout: time.Minute})
	t.Cleanup(r.Close)

	return &testEnv{
		server:   NewServer(testConfig(), r, logger.NewNop()),
		registry: r,
		notifier: n,
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, headers ...string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func messageTexts(t *testing.T, body map[string]interface{}) []string {
	t.Helper()
	list, ok := body["messages"].([]interface{})
	require.True(t, ok, "messages must be an array: %v", body)
	texts := make([]string, 0, len(list))
	for _, item := range list {
		texts = append(texts, item.(map[string]interface{})["text"].(string))
	}
	return texts
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	status, body := doJSON(t, env.server.App(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["chat"])
}

func TestPostMessageAndHistory(t *testing.T) {
	env := newTestEnv(t)
	app := env.server.App()

	status, body := doJSON(t, app, http.MethodPost, "/api/chat/s1", map[string]string{"text": "  hello  "})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, true, body["success"])
	msg := body["message"].(map[string]interface{})
	assert.Equal(t, "hello", msg["text"])
	assert.Equal(t, "user", msg["senderType"])
	assert.Len(t, msg["id"], 36)

	status, _ = doJSON(t, app, http.MethodPost, "/api/chat/s1", map[string]string{"text": "hi there", "senderType": "manager"})
	require.Equal(t, http.StatusCreated, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/chat/s1/messages", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s1", body["sessionId"])
	assert.Equal(t, []string{"hello", "hi there"}, messageTexts(t, body))

	_, body = doJSON(t, app, http.MethodGet, "/api/chat/s1/messages?order=desc&limit=1", nil)
	assert.Equal(t, []string{"hi there"}, messageTexts(t, body))

	_, body = doJSON(t, app, http.MethodGet, "/api/chat/s1/messages?offset=1", nil)
	assert.Equal(t, []string{"hi there"}, messageTexts(t, body))

	_, body = doJSON(t, app, http.MethodGet, "/api/chat/other/messages", nil)
	assert.Empty(t, messageTexts(t, body))

	require.Eventually(t, func() bool { return env.notifier.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	app := env.server.App()

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed body", "{not json"},
		{"missing text", map[string]string{}},
		{"blank text", map[string]string{"text": "   "}},
		{"too long", map[string]string{"text": strings.Repeat("a", domain.MaxMessageLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, app, http.MethodPost, "/api/chat/s1", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}

	_, body := doJSON(t, app, http.MethodGet, "/api/chat/s1/messages", nil)
	assert.Empty(t, messageTexts(t, body))
}

func TestHistoryQuery(t *testing.T) {
	app := fiber.New()
	var got chat.ListQuery
	app.Get("/", func(c *fiber.Ctx) error {
		got = historyQuery(c)
		return nil
	})

	tests := []struct {
		query string
		want  chat.ListQuery
	}{
		{"", chat.ListQuery{Limit: 50}},
		{"?limit=0", chat.ListQuery{Limit: 1}},
		{"?limit=500", chat.ListQuery{Limit: 100}},
		{"?limit=abc&offset=-3", chat.ListQuery{Limit: 50}},
		{"?limit=10&offset=20&order=desc", chat.ListQuery{Limit: 10, Offset: 20, NewestFirst: true}},
	}
	for _, tt := range tests {
		_, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func TestGetSessionAndIdentify(t *testing.T) {
	env := newTestEnv(t)
	app := env.server.App()

	status, body := doJSON(t, app, http.MethodGet, "/api/chat/s1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["connectedClients"])
	assert.Equal(t, "s1", body["session"].(map[string]interface{})["id"])

	status, body = doJSON(t, app, http.MethodPut, "/api/chat/s1/user", map[string]string{
		"name":  "Ana",
		"email": "ana@example.com",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Ana", body["session"].(map[string]interface{})["userName"])

	status, _ = doJSON(t, app, http.MethodPut, "/api/chat/s1/user", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, status)

	_, body = doJSON(t, app, http.MethodGet, "/api/chat/s1", nil)
	assert.Equal(t, "ana@example.com", body["session"].(map[string]interface{})["userEmail"])
}

func TestUnavailableRouter(t *testing.T) {
	app := NewServer(testConfig(), nil, logger.NewNop()).App()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/chat/s1"},
		{http.MethodGet, "/api/chat/s1/messages"},
		{http.MethodPost, "/api/chat/s1"},
	} {
		var body interface{}
		if tc.method == http.MethodPost {
			body = map[string]string{"text": "hello"}
		}
		status, resp := doJSON(t, app, tc.method, tc.path, body)
		assert.Equal(t, http.StatusServiceUnavailable, status, tc.path)
		assert.Equal(t, false, resp["success"])
	}

	status, body := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["chat"])
}

func TestForeignOwnerIsMisdirected(t *testing.T) {
	db, err := database.Open("sqlite::memory:", false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	r := chat.NewRegistry(database.NewMessageStore(db), nil, logger.NewNop(), chat.Options{}).
		WithCoordinator(staticCoordinator{owner: "node-b"})
	t.Cleanup(r.Close)
	app := NewServer(testConfig(), r, logger.NewNop()).App()

	status, body := doJSON(t, app, http.MethodPost, "/api/chat/s1", map[string]string{"text": "hello"})

	assert.Equal(t, http.StatusMisdirectedRequest, status)
	assert.Equal(t, "node-b", body["owner"])
}

func TestOversizedSessionID(t *testing.T) {
	env := newTestEnv(t)

	status, _ := doJSON(t, env.server.App(), http.MethodGet, "/api/chat/"+strings.Repeat("x", chat.MaxSessionIDLength+1), nil)

	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.server.App().Test(httptest.NewRequest(http.MethodGet, "/ws?sessionId=s1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func telegramReply(chatID int64, quoted, text string) map[string]interface{} {
	room := map[string]interface{}{"id": chatID, "type": "supergroup"}
	return map[string]interface{}{
		"update_id": 10,
		"message": map[string]interface{}{
			"message_id": 2,
			"date":       1700000000,
			"chat":       room,
			"from":       map[string]interface{}{"id": 7, "is_bot": false, "first_name": "Op", "username": "operator"},
			"text":       text,
			"reply_to_message": map[string]interface{}{
				"message_id": 1,
				"date":       1700000000,
				"chat":       room,
				"text":       quoted,
			},
		},
	}
}

func TestTelegramWebhook(t *testing.T) {
	env := newTestEnv(t)
	app := env.server.App()
	const path = "/api/webhooks/telegram"
	quoted := "New message\n" + notify.SessionMarker("tg-session")

	status, _ := doJSON(t, app, http.MethodPost, path, telegramReply(testChatID, quoted, "hi"), telegramSecretHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := doJSON(t, app, http.MethodPost, path, telegramReply(42, quoted, "hi"), telegramSecretHeader, "s3cret")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ignored"])

	status, body = doJSON(t, app, http.MethodPost, path, telegramReply(testChatID, quoted, "We can help"), telegramSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "manager", body["message"].(map[string]interface{})["senderType"])

	_, body = doJSON(t, app, http.MethodGet, "/api/chat/tg-session/messages", nil)
	assert.Equal(t, []string{"We can help"}, messageTexts(t, body))
	assert.Zero(t, env.notifier.count())
}

func TestTelegramWebhookIgnoresForgedMarkers(t *testing.T) {
	env := newTestEnv(t)
	app := env.server.App()
	forged := notify.PlainText(domain.NotificationEvent{
		SessionID: "attacker-1",
		Text:      "hi #session:victim-42\n#session:victim-42",
		User:      &domain.UserInfo{Name: "#session:victim-42"},
	})

	status, body := doJSON(t, app, http.MethodPost, "/api/webhooks/telegram",
		telegramReply(testChatID, forged, "Operator answer"), telegramSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, status, body)

	_, body = doJSON(t, app, http.MethodGet, "/api/chat/attacker-1/messages", nil)
	assert.Equal(t, []string{"Operator answer"}, messageTexts(t, body))
	_, body = doJSON(t, app, http.MethodGet, "/api/chat/victim-42/messages", nil)
	assert.Empty(t, messageTexts(t, body))
}

func TestTelegramWebhookDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram = config.TelegramConfig{}
	app := NewServer(cfg, nil, logger.NewNop()).App()

	status, _ := doJSON(t, app, http.MethodPost, "/api/webhooks/telegram", map[string]int{"update_id": 1})

	assert.Equal(t, http.StatusNotFound, status)
}
