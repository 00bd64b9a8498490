package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"valley-of-ashes/internal/game"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vmihailenco/msgpack/v5"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Counter write failed: %v", err)
	}
	return m.GetCounter().GetValue()
}

// stubEngine is a minimal EngineInterface for hub tests.
type stubEngine struct {
	mu      sync.Mutex
	snap    *game.BattleSnapshot
	recalls []game.Faction
}

func (s *stubEngine) GetSnapshot() *game.BattleSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubEngine) Layout() game.MapLayout { return game.MapLayout{Width: 100, Height: 100} }

func (s *stubEngine) PurchaseUnit(f game.Faction, t game.UnitType, lane game.Lane) bool {
	return t == game.UnitGrunt
}

func (s *stubEngine) TriggerRecall(f game.Faction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recalls = append(s.recalls, f)
	return true
}

func (s *stubEngine) SpawnUnit(f game.Faction, t game.UnitType, lane game.Lane, pos *game.Vec2) game.UnitID {
	return game.NoUnit
}

func (s *stubEngine) GetEventLogStats() map[string]interface{} { return nil }

func startHub(t *testing.T, engine EngineInterface) (*WebSocketHub, string) {
	t.Helper()
	return startLimitedHub(t, engine, nil)
}

func startLimitedHub(t *testing.T, engine EngineInterface, limiter *IPRateLimiter) (*WebSocketHub, string) {
	t.Helper()
	hub := NewWebSocketHub(engine, limiter)
	go hub.Run()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

type jsonFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readJSON(t *testing.T, conn *websocket.Conn) jsonFrame {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("Expected text frame, got %d", mt)
	}
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Invalid frame: %v", err)
	}
	return f
}

func waitForClients(t *testing.T, hub *WebSocketHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestWebSocketInitialState verifies new clients receive the current snapshot
func TestWebSocketInitialState(t *testing.T) {
	engine := &stubEngine{snap: &game.BattleSnapshot{Sequence: 3, Tick: 9}}
	_, url := startHub(t, engine)
	conn := dial(t, url)

	f := readJSON(t, conn)
	if f.Event != EventBattleState {
		t.Fatalf("Expected %s, got %s", EventBattleState, f.Event)
	}
	var snap game.BattleSnapshot
	json.Unmarshal(f.Data, &snap)
	if snap.Tick != 9 {
		t.Errorf("Expected tick 9, got %d", snap.Tick)
	}
}

// TestWebSocketBroadcast verifies pushes reach every client in its format
func TestWebSocketBroadcast(t *testing.T) {
	engine := &stubEngine{}
	hub, url := startHub(t, engine)
	text := dial(t, url)
	bin := dial(t, url+"?format=msgpack")
	waitForClients(t, hub, 2)

	hub.Broadcast(&game.BattleSnapshot{Sequence: 5, Tick: 77})

	f := readJSON(t, text)
	if f.Event != EventBattleState {
		t.Errorf("Expected %s, got %s", EventBattleState, f.Event)
	}

	mt, data, err := bin.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("Expected binary frame, got %d", mt)
	}
	var msg struct {
		Event string              `msgpack:"event"`
		Data  game.BattleSnapshot `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Invalid msgpack frame: %v", err)
	}
	if msg.Event != EventBattleState || msg.Data.Tick != 77 {
		t.Errorf("Unexpected frame %s tick %d", msg.Event, msg.Data.Tick)
	}
}

// TestWebSocketCommands verifies inbound commands and their replies
func TestWebSocketCommands(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		wantOK    bool
		wantError bool
	}{
		{"purchase", `{"cmd":"purchase","faction":"ENEMY","type":"GRUNT","lane":"WEST"}`, true, false},
		{"rejected purchase", `{"cmd":"purchase","faction":"ENEMY","type":"CAVALRY"}`, false, false},
		{"recall", `{"cmd":"recall","faction":"PLAYER"}`, true, false},
		{"unknown command", `{"cmd":"surrender","faction":"PLAYER"}`, false, true},
		{"bad faction", `{"cmd":"recall","faction":"NEUTRAL"}`, false, true},
		{"garbage", `not json`, false, true},
	}

	engine := &stubEngine{}
	_, url := startHub(t, engine)
	conn := dial(t, url)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			f := readJSON(t, conn)
			if f.Event != EventCommandResult {
				t.Fatalf("Expected %s, got %s", EventCommandResult, f.Event)
			}
			var res CommandResult
			json.Unmarshal(f.Data, &res)
			if res.Success != tt.wantOK {
				t.Errorf("Expected success=%v, got %v", tt.wantOK, res.Success)
			}
			if (res.Error != "") != tt.wantError {
				t.Errorf("Expected error=%v, got %q", tt.wantError, res.Error)
			}
		})
	}
}

// TestWebSocketMsgpackCommand verifies binary commands are decoded with msgpack
func TestWebSocketMsgpackCommand(t *testing.T) {
	engine := &stubEngine{}
	_, url := startHub(t, engine)
	conn := dial(t, url+"?format=msgpack")

	data, err := msgpack.Marshal(Command{Cmd: "recall", Faction: "ENEMY"})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var msg struct {
		Event string        `msgpack:"event"`
		Data  CommandResult `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(reply, &msg); err != nil {
		t.Fatalf("Invalid reply: %v", err)
	}
	if !msg.Data.Success || msg.Data.Cmd != "recall" {
		t.Errorf("Unexpected reply %+v", msg.Data)
	}
}

// TestWebSocketCommandRateLimit verifies websocket commands draw from the
// per-IP command bucket and over-limit commands are answered, not executed
func TestWebSocketCommandRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{
		Read:            Bucket{PerSecond: 1000, Burst: 1000},
		Command:         Bucket{PerSecond: 0.001, Burst: 2},
		CleanupInterval: time.Hour,
	})
	defer limiter.Stop()

	engine := &stubEngine{}
	_, url := startLimitedHub(t, engine, limiter)
	conn := dial(t, url)

	limited := rateLimitDecisions.WithLabelValues("command", "limited")
	before := counterValue(t, limited)

	errs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"recall","faction":"PLAYER"}`)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		f := readJSON(t, conn)
		if f.Event != EventCommandResult {
			t.Fatalf("Expected %s, got %s", EventCommandResult, f.Event)
		}
		var res CommandResult
		json.Unmarshal(f.Data, &res)
		errs = append(errs, res.Error)
	}

	if errs[0] != "" || errs[1] != "" || errs[2] != "rate limited" {
		t.Errorf("Expected only the third command limited, got %q", errs)
	}
	engine.mu.Lock()
	recalls := len(engine.recalls)
	engine.mu.Unlock()
	if recalls != 2 {
		t.Errorf("Expected 2 executed recalls, got %d", recalls)
	}
	if got := counterValue(t, limited) - before; got != 1 {
		t.Errorf("Expected 1 limited command decision, got %v", got)
	}
}

// TestWebSocketDisconnect verifies the client slot is released
func TestWebSocketDisconnect(t *testing.T) {
	hub, url := startHub(t, &stubEngine{})
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	if n := hub.conns.count("127.0.0.1"); n != 0 {
		t.Errorf("Expected per-IP slot released, got %d", n)
	}
}

// TestIsAllowedOrigin verifies the websocket origin policy
func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := IsAllowedOrigin(tt.origin); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestIsLoopback verifies the debug server address guard
func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := isLoopback(tt.addr); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestUpdateEventLogStats verifies cumulative counts become counter deltas
func TestUpdateEventLogStats(t *testing.T) {
	baseTotal := counterValue(t, eventLogTotal)
	baseDropped := counterValue(t, eventLogDropped)

	eventLogSeen.Lock()
	seenTotal, seenDropped := eventLogSeen.total, eventLogSeen.dropped
	eventLogSeen.Unlock()

	UpdateEventLogStats(seenTotal+10, seenDropped+2)
	UpdateEventLogStats(seenTotal+15, seenDropped+2)
	UpdateEventLogStats(seenTotal+12, seenDropped+1) // never decreases

	if got := counterValue(t, eventLogTotal) - baseTotal; got != 15 {
		t.Errorf("Expected total +15, got %v", got)
	}
	if got := counterValue(t, eventLogDropped) - baseDropped; got != 2 {
		t.Errorf("Expected dropped +2, got %v", got)
	}
}

// TestRecordEvents verifies purchase events are counted per faction and type
func TestRecordEvents(t *testing.T) {
	c := purchasesTotal.WithLabelValues("ENEMY", "HEALER")
	before := counterValue(t, c)

	RecordEvents([]game.Event{
		{Type: game.EventTypePurchase, Faction: "ENEMY", UnitType: "HEALER"},
		{Type: game.EventTypeKill, Faction: "ENEMY"},
		{Type: game.EventTypePurchase, Faction: "ENEMY", UnitType: "HEALER"},
	})

	if got := counterValue(t, c) - before; got != 2 {
		t.Errorf("Expected 2 purchases, got %v", got)
	}
}

// TestDebugHandlerHealth verifies the health endpoint
func TestDebugHandlerHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	DebugHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 || rec.Body.String() != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
}
