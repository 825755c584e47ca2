package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bubbleboard/internal/board"
	"bubbleboard/internal/broker"
	"bubbleboard/internal/config"
	"bubbleboard/internal/model"
	"bubbleboard/internal/persist"
	"bubbleboard/internal/store"
)

const testPassword = "s3cret"

type testEnv struct {
	handler   *Handler
	server    *httptest.Server
	audit     *persist.AuditLog
	snapshots *persist.SnapshotStore
	store     *store.MessageStore
	broker    *broker.Broker
}

// newTestEnv テスト用のHandlerとサーバーを生成
func newTestEnv(t *testing.T, seed ...model.Message) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Config{
		AllowedOrigins:      []string{"http://localhost:8080", "http://127.0.0.1:8080"},
		AdminPassword:       testPassword,
		EmailExportMaxBytes: config.DefaultEmailExportMaxBytes,
		WSWriteTimeout:      time.Second,
	}

	env := &testEnv{
		audit:     persist.NewAuditLog(filepath.Join(dir, "messages.log"), filepath.Join(dir, "emails.log"), zerolog.Nop()),
		snapshots: persist.NewSnapshotStore(filepath.Join(dir, "messages.json"), zerolog.Nop()),
		store:     store.New(seed),
		broker:    broker.New(cfg.WSWriteTimeout, zerolog.Nop()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go env.broker.Run(ctx)

	b := board.New(board.Deps{
		Store:     env.store,
		Snapshots: env.snapshots,
		Audit:     env.audit,
		Publisher: env.broker,
		Logger:    zerolog.Nop(),
	})

	h, err := New(b, env.broker, env.audit, cfg, zerolog.Nop())
	require.NoError(t, err)
	env.handler = h
	env.server = httptest.NewServer(h.SetupRouter())

	t.Cleanup(func() {
		env.server.Close()
		cancel()
		env.audit.Close()
	})
	return env
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.server.URL, "http://", "ws://", 1)

	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")

	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func readInit(t *testing.T, ws *websocket.Conn) []map[string]interface{} {
	t.Helper()
	f := readFrame(t, ws)
	require.Equal(t, model.EventInit, f.Type)
	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Payload, &views))
	return views
}

func readNewText(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	f := readFrame(t, ws)
	require.Equal(t, model.EventNewText, f.Type)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Payload, &view))
	return view
}

func submit(t *testing.T, ws *websocket.Conn, payload map[string]interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": model.EventNewText, "payload": payload}))
}

func readLog(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
}

func postJSON(t *testing.T, e *testEnv, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.SetupRouter().ServeHTTP(w, req)
	return w
}

// TestWebSocketConnection WebSocket 接続で init が届くことを確認
func TestWebSocketConnection(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t)

	views := readInit(t, ws)
	assert.Empty(t, views)
	require.Eventually(t, func() bool { return env.broker.Count() == 1 }, time.Second, 10*time.Millisecond)

	// キープアライブメッセージは無視される
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.store.Len())
}

// TestWebSocketOriginCheck Origin チェックテスト
func TestWebSocketOriginCheck(t *testing.T) {
	env := newTestEnv(t)
	url := strings.Replace(env.server.URL, "http://", "ws://", 1)

	header := http.Header{}
	header.Set("Origin", "http://forbidden.example.com")

	_, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	assert.Error(t, err, "WebSocket connection from forbidden origin should fail")
}

func TestWebSocketSameHostOrigin(t *testing.T) {
	env := newTestEnv(t)
	url := strings.Replace(env.server.URL, "http://", "ws://", 1)

	header := http.Header{}
	header.Set("Origin", env.server.URL)

	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	require.NoError(t, err)
	defer ws.Close()
	readInit(t, ws)
}

func TestBroadcast_PlainMessageReachesEveryone(t *testing.T) {
	env := newTestEnv(t)
	sender, watcher := env.dial(t), env.dial(t)
	readInit(t, sender)
	readInit(t, watcher)

	submit(t, sender, map[string]interface{}{"text": "hello"})

	for _, ws := range []*websocket.Conn{sender, watcher} {
		view := readNewText(t, ws)
		assert.Equal(t, "hello", view["text"])
		assert.Equal(t, false, view["hasEmail"])
		assert.NotContains(t, view, "email")
		assert.NotContains(t, view, "ip")
		_, err := time.Parse(time.RFC3339, view["time"].(string))
		assert.NoError(t, err)
	}

	env.audit.Flush()
	public := readLog(t, env.audit.PublicPath())
	require.Len(t, public, 1)
	assert.Contains(t, public[0], "] hello | IP: 127.0.0.1")
	assert.Nil(t, readLog(t, env.audit.EmailPath()))
}

func TestBroadcast_EmailIsRedacted(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t)
	readInit(t, ws)

	submit(t, ws, map[string]interface{}{"text": "hi", "email": "a@b.com"})

	view := readNewText(t, ws)
	assert.Equal(t, true, view["hasEmail"])
	assert.NotContains(t, view, "email")

	env.audit.Flush()
	public := readLog(t, env.audit.PublicPath())
	require.Len(t, public, 1)
	assert.Contains(t, public[0], "Email: a@b.com")
	emails := readLog(t, env.audit.EmailPath())
	require.Len(t, emails, 1)
	assert.Contains(t, emails[0], "hi | Email: a@b.com")
	assert.NotContains(t, emails[0], "IP:")
}

func TestBroadcast_InvalidSubmissionIsDropped(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t)
	readInit(t, ws)

	submit(t, ws, map[string]interface{}{"text": "   "})
	submit(t, ws, map[string]interface{}{})
	submit(t, ws, map[string]interface{}{"text": 42})
	submit(t, ws, map[string]interface{}{"text": "valid"})

	// 不正な投稿は配信されず、次に届くのは有効な投稿
	view := readNewText(t, ws)
	assert.Equal(t, "valid", view["text"])
	assert.Equal(t, 1, env.store.Len())
}

func TestBroadcast_ForwardedForIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	url := strings.Replace(env.server.URL, "http://", "ws://", 1)

	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")
	header.Set("X-Forwarded-For", "198.51.100.23, 10.0.0.1")
	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	require.NoError(t, err)
	defer ws.Close()
	readInit(t, ws)

	submit(t, ws, map[string]interface{}{"text": "from proxy"})
	readNewText(t, ws)

	stored := env.store.Snapshot()
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].IP)
	assert.Equal(t, "198.51.100.23", *stored[0].IP)
}

func TestResync_LateJoinerGetsHistoryInOrder(t *testing.T) {
	secret := "old@x.io"
	seed := []model.Message{{Text: "restored", Email: &secret, Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
	env := newTestEnv(t, seed...)

	first := env.dial(t)
	require.Len(t, readInit(t, first), 1)

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		submit(t, first, map[string]interface{}{"text": text, "email": "p@q.io"})
		readNewText(t, first)
	}

	late := env.dial(t)
	views := readInit(t, late)
	require.Len(t, views, 4)
	assert.Equal(t, "restored", views[0]["text"])
	assert.Equal(t, "2025-01-01T00:00:00.000Z", views[0]["time"])
	for i, text := range texts {
		assert.Equal(t, text, views[i+1]["text"])
		assert.Equal(t, true, views[i+1]["hasEmail"])
		assert.NotContains(t, views[i+1], "email")
	}

	// スナップショットにも同じ順序で保存されている
	saved := env.snapshots.Load()
	require.Len(t, saved, 4)
	assert.Equal(t, "three", saved[3].Text)
	require.NotNil(t, saved[3].Email)
	assert.Equal(t, "p@q.io", *saved[3].Email)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   string
		status int
		ok     bool
		result string
	}{
		{"success", `{"password":"s3cret"}`, http.StatusOK, true, "ADMIN AUTH success"},
		{"mismatch", `{"password":"nope"}`, http.StatusUnauthorized, false, "ADMIN AUTH failure"},
		{"missing", `{}`, http.StatusBadRequest, false, "ADMIN AUTH missing"},
		{"empty body", ``, http.StatusBadRequest, false, "ADMIN AUTH missing"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, env, "/api/admin-auth", tt.body, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.ok, resp["ok"])

			env.audit.Flush()
			public := readLog(t, env.audit.PublicPath())
			require.Len(t, public, i+1)
			assert.Contains(t, public[i], tt.result)
			assert.Contains(t, public[i], "IP: 203.0.113.50")
		})
	}
}

func TestAdminEmails_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.audit.EmailPath(), []byte("[t] x | Email: a@b.com\n"), 0o644))

	w := postJSON(t, env, "/api/admin/emails", `{"password":"wrong"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "unauthorized", resp["error"])
	assert.NotContains(t, w.Body.String(), "a@b.com")

	env.audit.Flush()
	public := readLog(t, env.audit.PublicPath())
	require.Len(t, public, 1)
	assert.Contains(t, public[0], "ADMIN EMAIL EXPORT failure | IP: 203.0.113.50")
}

func TestAdminEmails_ReturnsLog(t *testing.T) {
	env := newTestEnv(t)
	content := "[2025-01-01T00:00:00.000Z] hi | Email: a@b.com\n[2025-01-01T00:00:01.000Z] yo | Email: c@d.com\n"
	require.NoError(t, os.WriteFile(env.audit.EmailPath(), []byte(content), 0o644))

	w := postJSON(t, env, "/api/admin/emails", `{"password":"s3cret"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, content, w.Body.String())

	// Authorization ヘッダーでも認証できる
	w = postJSON(t, env, "/api/admin/emails", ``, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.String())

	env.audit.Flush()
	public := readLog(t, env.audit.PublicPath())
	require.Len(t, public, 2)
	assert.Contains(t, public[1], "ADMIN EMAIL EXPORT success")
}

func TestAdminEmails_CapsAtLineBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.handler.Config.EmailExportMaxBytes = 30

	content := "first line that is long\nsecond line\nthird line\n"
	require.NoError(t, os.WriteFile(env.audit.EmailPath(), []byte(content), 0o644))

	w := postJSON(t, env, "/api/admin/emails", `{"password":"s3cret"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "second line\nthird line\n", w.Body.String())
}

func TestAdminEmails_EmptyLog(t *testing.T) {
	env := newTestEnv(t)

	w := postJSON(t, env, "/api/admin/emails", `{"password":"s3cret"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestAdmin_NoPasswordConfigured(t *testing.T) {
	dir := t.TempDir()
	audit := persist.NewAuditLog(filepath.Join(dir, "m.log"), filepath.Join(dir, "e.log"), zerolog.Nop())
	defer audit.Close()

	h, err := New(nil, nil, audit, config.Config{}, zerolog.Nop())
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/admin-auth", bytes.NewReader([]byte(`{"password":""}`)))
	w := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("POST", "/api/admin-auth", bytes.NewReader([]byte(`{"password":"anything"}`)))
	w = httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNew_InvalidPasswordHash(t *testing.T) {
	_, err := New(nil, nil, nil, config.Config{AdminPasswordHash: "not-a-bcrypt-hash"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, model.Message{Text: "seed", Time: time.Now().UTC()})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	env.handler.SetupRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["messages"])
	assert.Equal(t, float64(0), resp["clients"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	env.handler.SetupRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bubbleboard_connected_clients")
}
