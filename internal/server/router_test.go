package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"skillswap/internal/config"
	"skillswap/internal/db"
	"skillswap/internal/models"
	"skillswap/internal/storage"
	"skillswap/internal/ws"
)

type testEnv struct {
	ts    *httptest.Server
	gdb   *gorm.DB
	store storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{
		Port:                  "8080",
		DatabaseDSN:           "unused",
		JWTSecret:             "test-secret",
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
	}
	store := storage.New(gdb)
	relay := ws.NewRelay(store, ws.NewRegistry())
	ts := httptest.NewServer(SetupRouter(cfg, gdb, store, relay))
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, gdb: gdb, store: store}
}

func (e *testEnv) post(t *testing.T, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	return e.do(t, http.MethodPost, path, token, body)
}

func (e *testEnv) get(t *testing.T, path, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return e.do(t, http.MethodGet, path, token, nil)
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// signup registers and logs a user in, returning the user id and access token.
func (e *testEnv) signup(t *testing.T, username string) (uint, string) {
	t.Helper()
	resp, body := e.post(t, "/api/v1/auth/register", "", map[string]string{"username": username, "password": "hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d body %v", username, resp.StatusCode, body)
	}
	id := uint(body["id"].(float64))

	resp, body = e.post(t, "/api/v1/auth/login", "", map[string]string{"username": username, "password": "hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d body %v", username, resp.StatusCode, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("login %s: no access token in %v", username, body)
	}
	return id, token
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestAuth_ProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signup(t, "alice")

	resp, _ := env.get(t, "/api/v1/users", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", resp.StatusCode)
	}

	resp, body := env.get(t, "/api/v1/users", token)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d body %v, want 200", resp.StatusCode, body)
	}
}

func TestAuth_RegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	resp, _ := env.post(t, "/api/v1/auth/register", "", map[string]string{"username": "alice", "password": "other"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRest_MatchAndMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	_, aliceTok := env.signup(t, "alice")
	bobID, bobTok := env.signup(t, "bob")

	// alice requests bob
	resp, body := env.post(t, "/api/v1/matches", aliceTok, map[string]uint{"targetUserId": bobID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create match: status %d body %v", resp.StatusCode, body)
	}
	match := body["match"].(map[string]interface{})
	matchID := uint(match["id"].(float64))
	if match["status"] != models.MatchPending {
		t.Errorf("new match status = %v, want pending", match["status"])
	}

	// alice cannot answer her own request
	resp, _ = env.post(t, fmt.Sprintf("/api/v1/matches/%d/respond", matchID), aliceTok, map[string]string{"response": "accepted"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("self-respond: status = %d, want 403", resp.StatusCode)
	}

	// messaging before acceptance is rejected
	resp, _ = env.post(t, fmt.Sprintf("/api/v1/matches/%d/messages", matchID), aliceTok, map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("message on pending match: status = %d, want 403", resp.StatusCode)
	}

	// bob accepts
	resp, body = env.post(t, fmt.Sprintf("/api/v1/matches/%d/respond", matchID), bobTok, map[string]string{"response": "accepted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("respond: status %d body %v", resp.StatusCode, body)
	}
	if got := body["match"].(map[string]interface{})["status"]; got != models.MatchAccepted {
		t.Errorf("status after respond = %v, want accepted", got)
	}

	// a second response conflicts
	resp, _ = env.post(t, fmt.Sprintf("/api/v1/matches/%d/respond", matchID), bobTok, map[string]string{"response": "rejected"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double respond: status = %d, want 409", resp.StatusCode)
	}

	// now chat works over the REST fallback
	resp, body = env.post(t, fmt.Sprintf("/api/v1/matches/%d/messages", matchID), aliceTok, map[string]string{"message": "hello bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send message: status %d body %v", resp.StatusCode, body)
	}
	resp, body = env.get(t, fmt.Sprintf("/api/v1/matches/%d/messages", matchID), bobTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages: status %d body %v", resp.StatusCode, body)
	}
	msgs := body["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if got := msgs[0].(map[string]interface{})["message"]; got != "hello bob" {
		t.Errorf("message body = %v", got)
	}

	// bob got a notification for the message (and the earlier match request notification is gone from alice's unread? no — alice had none)
	resp, body = env.get(t, "/api/v1/notifications", bobTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list notifications: status %d", resp.StatusCode)
	}
	ns := body["notifications"].([]interface{})
	if len(ns) == 0 {
		t.Fatal("bob should have notifications")
	}
}

func TestNotifications_MarkReadAndDelete(t *testing.T) {
	env := newTestEnv(t)
	_, aliceTok := env.signup(t, "alice")
	bobID, bobTok := env.signup(t, "bob")

	resp, _ := env.post(t, "/api/v1/matches", aliceTok, map[string]uint{"targetUserId": bobID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create match: status %d", resp.StatusCode)
	}

	_, body := env.get(t, "/api/v1/notifications", bobTok)
	ns := body["notifications"].([]interface{})
	if len(ns) != 1 {
		t.Fatalf("notifications = %d, want 1", len(ns))
	}
	nid := uint(ns[0].(map[string]interface{})["id"].(float64))

	// alice cannot touch bob's notification; the id is not revealed to her
	resp, _ = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/notifications/%d/read", nid), aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user mark read: status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/notifications/%d/read", nid), bobTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("mark read: status = %d, want 200", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/notifications/%d", nid), bobTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: status = %d, want 200", resp.StatusCode)
	}
	_, body = env.get(t, "/api/v1/notifications", bobTok)
	if ns := body["notifications"].([]interface{}); len(ns) != 0 {
		t.Errorf("notifications after delete = %d, want 0", len(ns))
	}
}

// --- realtime end to end ---

func dialWS(t *testing.T, env *testEnv, userID uint, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	auth, _ := json.Marshal(ws.AuthPayload{UserID: userID, Username: username})
	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeAuth, Data: auth}); err != nil {
		t.Fatalf("send auth: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != ws.TypeNotification {
		t.Fatalf("auth ack type = %q, want notification", f.Type)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ws.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f ws.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebSocket_ChatEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	aliceID, aliceTok := env.signup(t, "alice")
	bobID, bobTok := env.signup(t, "bob")

	// establish an accepted match over REST
	resp, body := env.post(t, "/api/v1/matches", aliceTok, map[string]uint{"targetUserId": bobID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create match: status %d", resp.StatusCode)
	}
	matchID := uint(body["match"].(map[string]interface{})["id"].(float64))
	resp, _ = env.post(t, fmt.Sprintf("/api/v1/matches/%d/respond", matchID), bobTok, map[string]string{"response": "accepted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("respond: status %d", resp.StatusCode)
	}

	alice := dialWS(t, env, aliceID, "alice")
	bob := dialWS(t, env, bobID, "bob")
	// both users carry unread notifications (match request for bob, the
	// acceptance for alice) which arrive as pending batches right after auth
	if f := readFrame(t, alice); f.Type != ws.TypeNotification {
		t.Fatalf("alice pending batch type = %q", f.Type)
	}
	if f := readFrame(t, bob); f.Type != ws.TypeNotification {
		t.Fatalf("bob pending batch type = %q", f.Type)
	}

	msg, _ := json.Marshal(ws.MessagePayload{Message: "hello over ws"})
	if err := alice.WriteJSON(ws.Frame{Type: ws.TypeMessage, MatchID: matchID, Data: msg}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	echo := readFrame(t, alice)
	if echo.Type != ws.TypeMessage {
		t.Fatalf("echo type = %q, want message", echo.Type)
	}
	var sent ws.MessageEvent
	if err := json.Unmarshal(echo.Data, &sent); err != nil {
		t.Fatalf("unmarshal echo: %v", err)
	}
	if sent.Status != "sent" || sent.Message != "hello over ws" || sent.SenderID != aliceID {
		t.Errorf("echo = %+v", sent)
	}

	delivery := readFrame(t, bob)
	if delivery.Type != ws.TypeMessage {
		t.Fatalf("delivery type = %q, want message", delivery.Type)
	}
	var received ws.MessageEvent
	if err := json.Unmarshal(delivery.Data, &received); err != nil {
		t.Fatalf("unmarshal delivery: %v", err)
	}
	if received.Status != "received" || received.ID != sent.ID {
		t.Errorf("delivery = %+v, want id %d with status received", received, sent.ID)
	}

	notif := readFrame(t, bob)
	if notif.Type != ws.TypeNotification {
		t.Fatalf("notification type = %q", notif.Type)
	}

	// the message is also visible over REST
	resp, body = env.get(t, fmt.Sprintf("/api/v1/matches/%d/messages", matchID), bobTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages: status %d", resp.StatusCode)
	}
	if msgs := body["messages"].([]interface{}); len(msgs) != 1 {
		t.Errorf("persisted messages = %d, want 1", len(msgs))
	}
}

func TestWebSocket_SupersededConnectionIsClosed(t *testing.T) {
	env := newTestEnv(t)
	aliceID, _ := env.signup(t, "alice")

	first := dialWS(t, env, aliceID, "alice")
	_ = dialWS(t, env, aliceID, "alice")

	// the first socket receives a close frame with the supersede code
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Fatal("first connection should be closed after a second login")
	}
	if !websocket.IsCloseError(err, ws.CloseSuperseded) {
		t.Errorf("close error = %v, want code %d", err, ws.CloseSuperseded)
	}
}
