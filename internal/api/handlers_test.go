package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"openideax/collab/internal/assistant"
	"openideax/collab/internal/config"
	"openideax/collab/internal/llm/mock"
	"openideax/collab/internal/models"
	"openideax/collab/internal/prompts"
	"openideax/collab/internal/session"
)

type testEnv struct {
	server  *httptest.Server
	hub     *session.Hub
	gateway *session.Gateway
	h       *Handlers
}

func newTestEnv(t *testing.T, origins ...string) *testEnv {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	hub := session.NewHub()
	pm, err := prompts.NewPromptManager()
	if err != nil {
		t.Fatalf("prompt manager: %v", err)
	}
	catalog, err := assistant.DefaultCatalog()
	if err != nil {
		t.Fatalf("persona catalog: %v", err)
	}
	ai := assistant.New(mock.NewClient(), pm, catalog, hub, zap.NewNop(), time.Second)
	gw := session.NewGateway(hub, ai, zap.NewNop())
	cfg := &config.Config{SendBuffer: 64, CORSAllowedOrigins: origins}
	h := NewHandlers(zap.NewNop(), cfg, gw, ai, pm)

	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Readyz)
	r.Get("/ws", h.CollabWS)
	r.Get("/api/v1/rooms", h.ListRooms)
	r.Get("/api/v1/rooms/{roomId}", h.GetRoom)
	r.Post("/api/v1/rooms/{roomId}/synthesis", h.Synthesize)
	r.Get("/api/v1/personas", h.ListPersonas)

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		server.Close()
	})
	return &testEnv{server: server, hub: hub, gateway: gw, h: h}
}

type inbound struct {
	Type   string          `json:"type"`
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
}

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan inbound
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	c := &wsClient{t: t, conn: conn, frames: make(chan inbound, 256)}
	go func() {
		defer close(c.frames)
		for {
			var f inbound
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			c.frames <- f
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *wsClient) send(typ string, data interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]interface{}{"type": typ, "data": data}); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

func (c *wsClient) join(room, participant string, doc interface{}) {
	c.t.Helper()
	data := map[string]interface{}{"roomId": room, "participantId": participant, "displayName": participant}
	if doc != nil {
		data["document"] = doc
	}
	c.send(models.FrameJoin, data)
}

// expect skips frames until one of type typ arrives.
func (c *wsClient) expect(typ string) inbound {
	c.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", typ)
			}
			if f.Type == typ {
				return f
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func (c *wsClient) expectNone(typ string, within time.Duration) {
	c.t.Helper()
	deadline := time.After(within)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			if f.Type == typ {
				c.t.Fatalf("unexpected %s frame: %s", typ, f.Data)
			}
		case <-deadline:
			return
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func rosterIDs(t *testing.T, f inbound) []string {
	t.Helper()
	var ids []string
	for _, p := range decode[[]models.Participant](t, f.Data) {
		ids = append(ids, p.ParticipantID)
	}
	return ids
}

// waitForRoster polls until room holds n participants.
func (e *testEnv) waitForRoster(t *testing.T, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := e.hub.Get(room); ok && r.GetClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d participants", room, n)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok, got %q", rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[ReadinessResponse](t, rec.Body.Bytes())
	if resp.Status != "ready" || resp.Checks["provider"].Message != "mock" {
		t.Fatalf("unexpected readiness: %+v", resp)
	}

	notReady := &Handlers{log: zap.NewNop(), hub: env.hub}
	rec = httptest.NewRecorder()
	notReady.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestFirstDocumentWinsOnJoin(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)

	alice.join("r1", "alice", map[string]string{"title": "X"})
	alice.expect(models.FrameDocumentUpdated)

	bob.join("r1", "bob", map[string]string{"title": "Y"})
	doc := bob.expect(models.FrameDocumentUpdated)
	if got := decode[map[string]string](t, doc.Data)["title"]; got != "X" {
		t.Fatalf("bob should see the first document, got %q", got)
	}
	if doc.RoomID != "r1" {
		t.Fatalf("expected roomId on frame, got %q", doc.RoomID)
	}

	roster := alice.expect(models.FrameRosterUpdated)
	for len(rosterIDs(t, roster)) < 2 {
		roster = alice.expect(models.FrameRosterUpdated)
	}
	if ids := strings.Join(rosterIDs(t, roster), ","); ids != "alice,bob" {
		t.Fatalf("unexpected roster %s", ids)
	}
	joined := alice.expect(models.FrameParticipantJoined)
	if p := decode[models.Participant](t, joined.Data); p.ParticipantID != "bob" {
		t.Fatalf("expected bob joined, got %+v", p)
	}
}

func TestChatOrderingAndNoEcho(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	carol := env.dial(t)
	alice.join("r1", "alice", nil)
	bob.join("r1", "bob", nil)
	carol.join("r1", "carol", nil)
	env.waitForRoster(t, "r1", 3)

	alice.send(models.FrameChat, map[string]string{"roomId": "r1", "content": "hello"})
	first := bob.expect(models.FrameChat)
	bob.send(models.FrameChat, map[string]string{"roomId": "r1", "content": "hi"})

	if m := decode[models.ChatMessage](t, first.Data); m.Content != "hello" {
		t.Fatalf("bob expected hello, got %q", m.Content)
	}
	a := decode[models.ChatMessage](t, carol.expect(models.FrameChat).Data)
	b := decode[models.ChatMessage](t, carol.expect(models.FrameChat).Data)
	if a.Content != "hello" || b.Content != "hi" {
		t.Fatalf("carol saw chat out of order: %q then %q", a.Content, b.Content)
	}
	if a.Sender != models.SenderUser || a.Type != models.MessageText || a.ID == "" {
		t.Fatalf("expected defaults applied, got %+v", a)
	}

	// alice only ever sees bob's message
	if m := decode[models.ChatMessage](t, alice.expect(models.FrameChat).Data); m.Content != "hi" {
		t.Fatalf("alice should not receive her own chat, got %q", m.Content)
	}
}

func TestDisconnectUpdatesRoster(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	alice.join("r1", "alice", nil)
	bob.join("r1", "bob", nil)
	env.waitForRoster(t, "r1", 2)

	alice.conn.Close()

	left := bob.expect(models.FrameParticipantLeft)
	if p := decode[models.ParticipantLeft](t, left.Data); p.ParticipantID != "alice" {
		t.Fatalf("expected alice to leave, got %+v", p)
	}
	roster := bob.expect(models.FrameRosterUpdated)
	if ids := strings.Join(rosterIDs(t, roster), ","); ids != "bob" {
		t.Fatalf("expected roster [bob], got %s", ids)
	}
}

func TestDocumentUpdateReachesEveryoneIncludingAuthor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	alice.join("r1", "alice", nil)
	bob.join("r1", "bob", nil)
	env.waitForRoster(t, "r1", 2)

	alice.send(models.FrameDocumentUpdate, map[string]interface{}{"roomId": "r1", "document": map[string]string{"title": "Z"}})
	for name, c := range map[string]*wsClient{"alice": alice, "bob": bob} {
		f := c.expect(models.FrameDocumentUpdated)
		if got := decode[map[string]string](t, f.Data)["title"]; got != "Z" {
			t.Fatalf("%s got title %q", name, got)
		}
	}
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)

	if err := alice.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	alice.send("teleport", map[string]string{"roomId": "r1"})
	alice.send(models.FrameChat, map[string]string{"roomId": "nowhere", "content": "hi"})
	alice.expectNone("error", 100*time.Millisecond)

	// still usable afterwards
	alice.join("r1", "alice", nil)
	alice.expect(models.FrameRosterUpdated)
	if env.hub.Len() != 1 {
		t.Fatalf("expected only the joined room to exist, got %d", env.hub.Len())
	}
}

func TestSupersededConnectionKeepsParticipant(t *testing.T) {
	env := newTestEnv(t)
	tab1 := env.dial(t)
	tab2 := env.dial(t)
	watcher := env.dial(t)

	tab1.join("r1", "alice", nil)
	watcher.join("r1", "watcher", nil)
	env.waitForRoster(t, "r1", 2)
	tab2.join("r1", "alice", nil)
	tab2.expect(models.FrameRosterUpdated)

	tab1.conn.Close()
	watcher.expectNone(models.FrameParticipantLeft, 200*time.Millisecond)
	room, _ := env.hub.Get("r1")
	if room.GetClientCount() != 2 {
		t.Fatalf("alice should still be present, got %d participants", room.GetClientCount())
	}
}

func TestAIReplyBroadcastToRoom(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	alice.join("r1", "alice", nil)
	bob.join("r1", "bob", nil)
	env.waitForRoster(t, "r1", 2)

	alice.send(models.FrameChat, map[string]string{"roomId": "r1", "content": "@ai any funding ideas?", "personaId": "persona_2"})

	trigger := decode[models.ChatMessage](t, bob.expect(models.FrameChat).Data)
	if trigger.Sender != models.SenderUser {
		t.Fatalf("expected the trigger first, got %+v", trigger)
	}
	for name, c := range map[string]*wsClient{"alice": alice, "bob": bob} {
		reply := decode[models.ChatMessage](t, c.expect(models.FrameChat).Data)
		if reply.Sender != models.SenderAI || reply.PersonaID != "persona_2" {
			t.Fatalf("%s expected ai reply with persona, got %+v", name, reply)
		}
		if !strings.Contains(reply.Content, "business") {
			t.Fatalf("%s unexpected ai reply %q", name, reply.Content)
		}
	}
}

func TestLateJoinerReceivesHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	alice.join("r1", "alice", nil)
	env.waitForRoster(t, "r1", 1)
	alice.send(models.FrameChat, map[string]string{"roomId": "r1", "content": "first"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		room, _ := env.hub.Get("r1")
		if len(room.ChatHistory()) == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	bob := env.dial(t)
	bob.join("r1", "bob", nil)
	history := decode[[]models.ChatMessage](t, bob.expect(models.FrameChatHistory).Data)
	if len(history) != 1 || history[0].Content != "first" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRoomEndpoints(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	alice.join("r1", "alice", map[string]string{"title": "Solar"})
	env.waitForRoster(t, "r1", 1)

	resp, err := http.Get(env.server.URL + "/api/v1/rooms")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	var summaries []models.RoomSummary
	_ = json.NewDecoder(resp.Body).Decode(&summaries)
	resp.Body.Close()
	if len(summaries) != 1 || summaries[0].RoomID != "r1" || summaries[0].Participants != 1 || !summaries[0].HasDocument {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	resp, err = http.Get(env.server.URL + "/api/v1/rooms/r1")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	var snap models.RoomSnapshot
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(snap.Participants) != 1 || !bytes.Contains(snap.Document, []byte("Solar")) {
		t.Fatalf("unexpected snapshot %d %+v", resp.StatusCode, snap)
	}

	resp, err = http.Get(env.server.URL + "/api/v1/rooms/missing")
	if err != nil {
		t.Fatalf("get missing room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if _, ok := env.hub.Get("missing"); ok {
		t.Fatalf("read-only endpoint created a room")
	}
}

func TestPersonasEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/api/v1/personas")
	if err != nil {
		t.Fatalf("personas: %v", err)
	}
	defer resp.Body.Close()
	var personas []models.Persona
	if err := json.NewDecoder(resp.Body).Decode(&personas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(personas) != 3 || personas[1].Name != "Marcus Johnson" {
		t.Fatalf("unexpected personas %+v", personas)
	}
}

func TestSynthesisEndpoint(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	alice.join("r1", "alice", nil)
	bob.join("r1", "bob", nil)
	env.waitForRoster(t, "r1", 2)

	resp, err := http.Post(env.server.URL+"/api/v1/rooms/r1/synthesis", "application/json", nil)
	if err != nil {
		t.Fatalf("synthesis: %v", err)
	}
	var msg models.ChatMessage
	_ = json.NewDecoder(resp.Body).Decode(&msg)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || msg.Type != models.MessageSynthesis || msg.Sender != models.SenderAI {
		t.Fatalf("unexpected synthesis response %d %+v", resp.StatusCode, msg)
	}

	for _, c := range []*wsClient{alice, bob} {
		f := decode[models.ChatMessage](t, c.expect(models.FrameChat).Data)
		if f.ID != msg.ID {
			t.Fatalf("expected broadcast of synthesis %s, got %s", msg.ID, f.ID)
		}
	}

	resp, err = http.Post(env.server.URL+"/api/v1/rooms/ghost/synthesis", "application/json", nil)
	if err != nil {
		t.Fatalf("synthesis: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	env := newTestEnv(t, "http://allowed.test")

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://allowed.test")
	if !env.h.checkOrigin(req) {
		t.Fatalf("expected allowed origin")
	}
	req.Header.Set("Origin", "http://evil.test")
	if env.h.checkOrigin(req) {
		t.Fatalf("expected origin rejected")
	}
	req.Header.Del("Origin")
	if !env.h.checkOrigin(req) {
		t.Fatalf("requests without Origin should pass")
	}
}
