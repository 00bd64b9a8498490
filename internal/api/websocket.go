package api

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"valley-of-ashes/internal/game"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// BroadcastInterval is the state push period (10 Hz)
	BroadcastInterval = 100 * time.Millisecond

	wsWriteTimeout = time.Second

	// Event names
	EventBattleState   = "battle:state"
	EventCommandResult = "command:result"
)

// AllowedOrigins lists extra exact origins accepted for websocket upgrades
// besides any localhost port.
var AllowedOrigins = []string{}

// IsAllowedOrigin reports whether an upgrade from origin may proceed. An
// empty origin means a non-browser client.
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil {
		if host := u.Hostname(); host == "localhost" || host == "127.0.0.1" {
			return true
		}
	}
	for _, allowed := range AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}

		// Log rejected origin for security monitoring
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// wsMessage is the envelope of every frame pushed to clients.
type wsMessage struct {
	Event string      `json:"event" msgpack:"event"`
	Data  interface{} `json:"data" msgpack:"data"`
}

// wsClient tracks a WebSocket connection with its source IP and frame format.
// gorilla allows one concurrent writer, so writes go through writeMu.
type wsClient struct {
	conn    *websocket.Conn
	ip      string
	binary  bool // msgpack frames instead of JSON text
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) send(msg wsMessage) error {
	data, mt, err := encodeMessage(msg, c.binary)
	if err != nil {
		return err
	}
	return c.write(mt, data)
}

func encodeMessage(msg wsMessage, binary bool) ([]byte, int, error) {
	if binary {
		b, err := msgpack.Marshal(msg)
		return b, websocket.BinaryMessage, err
	}
	b, err := json.Marshal(msg)
	return b, websocket.TextMessage, err
}

// WebSocketHub pushes battle state to all connections and accepts commands
// from them, with DoS protection.
type WebSocketHub struct {
	engine EngineInterface

	clients    map[*websocket.Conn]*wsClient
	broadcast  chan *game.BattleSnapshot
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once

	conns    *connLimiter
	commands *IPRateLimiter // nil disables command limiting
}

// NewWebSocketHub creates a new hub with per-IP connection limiting.
// Commands are executed against engine and charged to the same per-IP
// command bucket as the HTTP command routes when limiter is non-nil.
func NewWebSocketHub(engine EngineInterface, limiter *IPRateLimiter) *WebSocketHub {
	return &WebSocketHub{
		engine:     engine,
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan *game.BattleSnapshot, 4),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		conns:      newConnLimiter(MaxWSConnectionsPerIP),
		commands:   limiter,
	}
}

// Run owns client registration and broadcasting until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.remove(conn)

		case snap := <-h.broadcast:
			h.pushSnapshot(snap)

		case <-h.stop:
			h.mu.Lock()
			for conn, client := range h.clients {
				h.conns.release(client.ip)
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return
		}
	}
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *WebSocketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	if ok {
		h.conns.release(client.ip)
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		log.Printf("📱 Client disconnected (%d remaining)", count)
		UpdateWSConnections(count)
	}
}

// pushSnapshot encodes snap at most once per format and writes it to every client.
func (h *WebSocketHub) pushSnapshot(snap *game.BattleSnapshot) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	msg := wsMessage{Event: EventBattleState, Data: snap}
	var frames [2][]byte // text, binary
	for _, c := range clients {
		idx, mt := 0, websocket.TextMessage
		if c.binary {
			idx, mt = 1, websocket.BinaryMessage
		}
		if frames[idx] == nil {
			data, _, err := encodeMessage(msg, c.binary)
			if err != nil {
				log.Printf("❌ Snapshot encode failed: %v", err)
				return
			}
			frames[idx] = data
		}
		if err := c.write(mt, frames[idx]); err != nil {
			h.remove(c.conn)
		}
	}
	IncrementWSMessages()
}

// Broadcast queues snap for all clients. Drops when the hub is behind.
func (h *WebSocketHub) Broadcast(snap *game.BattleSnapshot) {
	select {
	case h.broadcast <- snap:
	default:
		// Channel full, skip (backpressure)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop pushes the latest snapshot every BroadcastInterval
// until Stop. Unchanged snapshots are not resent.
func (h *WebSocketHub) StartBroadcastLoop() {
	ticker := time.NewTicker(BroadcastInterval)

	go func() {
		defer ticker.Stop()
		var lastSeq uint64
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}
			if h.ClientCount() == 0 {
				continue
			}
			snap := h.engine.GetSnapshot()
			if snap == nil || snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence
			h.Broadcast(snap)
		}
	}()
}

// HandleWebSocket upgrades the connection. `?format=msgpack` selects binary
// msgpack frames; otherwise frames are JSON text.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", MaxWSConnectionsTotal)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.conns.acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.conns.release(ip) // Release the slot we reserved
		return
	}

	client := &wsClient{conn: conn, ip: ip, binary: r.URL.Query().Get("format") == "msgpack"}
	select {
	case h.register <- client:
	case <-h.stop:
		h.conns.release(ip)
		conn.Close()
		return
	}

	// New clients get the current state without waiting for the next push.
	if snap := h.engine.GetSnapshot(); snap != nil {
		client.send(wsMessage{Event: EventBattleState, Data: snap})
	}

	go h.readLoop(client)
}

// readLoop executes inbound commands until the connection fails.
func (h *WebSocketHub) readLoop(client *wsClient) {
	defer func() {
		select {
		case h.unregister <- client.conn:
		case <-h.stop:
		}
	}()

	for {
		mt, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if mt == websocket.BinaryMessage {
			err = msgpack.Unmarshal(message, &cmd)
		} else {
			err = json.Unmarshal(message, &cmd)
		}
		if err != nil {
			client.send(wsMessage{Event: EventCommandResult, Data: CommandResult{Error: "invalid message"}})
			continue
		}
		if h.commands != nil && !h.commands.Allow(client.ip, ClassCommand) {
			RecordConnectionRejected("ws_rate_limit")
			if err := client.send(wsMessage{Event: EventCommandResult, Data: CommandResult{Cmd: cmd.Cmd, Error: "rate limited"}}); err != nil {
				return
			}
			continue
		}

		res, err := cmd.Execute(h.engine)
		if err != nil {
			res.Error = err.Error()
		}
		if err := client.send(wsMessage{Event: EventCommandResult, Data: res}); err != nil {
			return
		}
	}
}
