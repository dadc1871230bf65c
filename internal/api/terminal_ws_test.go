package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ricochet1k/termslots/internal/domain"
	apiTypes "github.com/ricochet1k/termslots/pkg/api"
)

type wsEnvelope struct {
	Version int             `json:"v"`
	Type    string          `json:"type"`
	SlotID  string          `json:"slot_id"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
}

// mockCookieJar satisfies http.CookieJar for the websocket dialer.
type mockCookieJar struct {
	cookies map[string][]*http.Cookie
}

func (j *mockCookieJar) SetCookies(_ *url.URL, _ []*http.Cookie) {}

func (j *mockCookieJar) Cookies(u *url.URL) []*http.Cookie {
	key := "http://" + u.Host
	return j.cookies[key]
}

// dialSlot opens a viewer socket as user. Write mode sends the CSRF cookie
// and query token.
func dialSlot(t *testing.T, server *httptest.Server, slotID, user string, write bool) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/slots/" + slotID + "/ws"
	dialer := &websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	if write {
		wsURL += "?write=true&csrf_token=" + testCSRFToken
		dialer.Jar = &mockCookieJar{cookies: map[string][]*http.Cookie{
			server.URL: {{Name: csrfCookieName, Value: testCSRFToken}},
		}}
	}
	header := http.Header{}
	header.Set(DefaultIdentityHeader, user)
	return dialer.Dial(wsURL, header)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("failed to read envelope: %v", err)
	}
	return env
}

// readUntil reads envelopes until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsEnvelope) bool) wsEnvelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if match(env) {
			return env
		}
	}
	t.Fatal("expected envelope never arrived")
	return wsEnvelope{}
}

func snapshotLines(t *testing.T, env wsEnvelope) []string {
	t.Helper()
	var snap apiTypes.TerminalSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("bad snapshot payload: %v", err)
	}
	return snap.Lines
}

func TestSlotWebSocket_SnapshotsFollowOutput(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	slot := env.launch(env.alice, env.profile("nethack", nil))

	conn, _, err := dialSlot(t, server, slot.ID, "bob", false)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	first := readEnvelope(t, conn)
	if first.Type != "terminal.snapshot" || first.Seq != 0 || first.SlotID != slot.ID || first.Version != terminalProtocolVersion {
		t.Fatalf("unexpected initial envelope %+v", first)
	}

	env.game(0).emit("You see a fountain.")
	readUntil(t, conn, func(e wsEnvelope) bool {
		return e.Type == "terminal.snapshot" && e.Seq > 0 && snapshotLines(t, e)[0] == "You see a fountain."
	})
}

func TestSlotWebSocket_ReadOnlyRejectsInput(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	slot := env.launch(env.alice, env.profile("crawl", nil))

	conn, _, err := dialSlot(t, server, slot.ID, "alice", false)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	if err := conn.WriteJSON(map[string]any{"type": "input.text", "data": map[string]string{"text": "q"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readUntil(t, conn, func(e wsEnvelope) bool { return e.Type == "terminal.error" })
	var te apiTypes.TerminalError
	_ = json.Unmarshal(got.Data, &te)
	if te.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", te)
	}
	if w := env.game(0).Written(); w != "" {
		t.Fatalf("read-only viewer reached the game: %q", w)
	}
}

func TestSlotWebSocket_WriteModeFeedsInput(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	slot := env.launch(env.alice, env.profile("rogue", nil))

	conn, resp, err := dialSlot(t, server, slot.ID, "alice", true)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected successful dial for write mode, got status %d: %v", status, err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	messages := []map[string]any{
		{"type": "input.text", "data": map[string]string{"text": "hi"}},
		{"type": "input.key", "data": map[string]any{"key": "up"}},
		{"type": "input.key", "data": map[string]any{"rune": "c", "ctrl": true}},
		{"type": "input.control", "data": map[string]string{"signal": "eof"}},
	}
	for _, msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	g := env.game(0)
	want := "hi\x1bOA\x03\x04"
	deadline := time.Now().Add(2 * time.Second)
	for g.Written() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %q written, got %q", want, g.Written())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlotWebSocket_BadInputReportsError(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	slot := env.launch(env.alice, env.profile("hack", nil))

	conn, _, err := dialSlot(t, server, slot.ID, "alice", true)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	cases := []struct {
		msg  string
		code string
	}{
		{`not json`, "bad_request"},
		{`{"type":"resize"}`, "unsupported"},
		{`{"type":"input.mouse","data":{}}`, "unsupported"},
		{`{"type":"input.key","data":{"key":"hyper"}}`, "bad_request"},
		{`{"type":"input.key","data":{"rune":"ab"}}`, "bad_request"},
		{`{"type":"input.control","data":{"signal":"hup"}}`, "bad_request"},
	}
	for _, tc := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		got := readUntil(t, conn, func(e wsEnvelope) bool { return e.Type == "terminal.error" })
		var te apiTypes.TerminalError
		_ = json.Unmarshal(got.Data, &te)
		if te.Code != tc.code {
			t.Errorf("%s: expected %s, got %+v", tc.msg, tc.code, te)
		}
	}
}

func TestSlotWebSocket_PlayPermissionEnforced(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	p := env.profile("brogue", func(p *domain.SlotProfile) {
		p.SetAllowed(domain.ActionPlay, domain.LauncherSet())
	})
	slot := env.launch(env.alice, p)

	conn, _, err := dialSlot(t, server, slot.ID, "bob", true)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	if err := conn.WriteJSON(map[string]any{"type": "input.text", "data": map[string]string{"text": "x"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readUntil(t, conn, func(e wsEnvelope) bool { return e.Type == "terminal.error" })
	var te apiTypes.TerminalError
	_ = json.Unmarshal(got.Data, &te)
	if te.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", te)
	}
}

func TestSlotWebSocket_WatchForbidden(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	p := env.profile("moria", func(p *domain.SlotProfile) {
		p.SetForbidden(domain.ActionWatch, domain.ExplicitSet(env.bob.ID))
	})
	slot := env.launch(env.alice, p)

	_, resp, err := dialSlot(t, server, slot.ID, "bob", false)
	if err == nil {
		t.Fatal("expected websocket dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestSlotWebSocket_WriteModeRequiresCSRF(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	slot := env.launch(env.alice, env.profile("angband", nil))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/slots/" + slot.ID + "/ws?write=true"
	header := http.Header{}
	header.Set(DefaultIdentityHeader, "alice")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected websocket dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestSlotWebSocket_ClosedOnExit(t *testing.T) {
	env := newAPITestEnv(t)
	server := httptest.NewServer(env.handler.Router())
	defer server.Close()
	slot := env.launch(env.alice, env.profile("adom", nil))

	conn, _, err := dialSlot(t, server, slot.ID, "alice", false)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	env.game(0).exit()
	readUntil(t, conn, func(e wsEnvelope) bool { return e.Type == "terminal.closed" })

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
