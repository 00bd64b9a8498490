package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"

	"valley-of-ashes/internal/game"

	"github.com/pkg/errors"
)

// veteranLimit caps the /api/stats veterans list.
const veteranLimit = 10

// Command is a request for the battle command surface, shared by the HTTP
// endpoints and websocket messages.
type Command struct {
	Cmd     string   `json:"cmd,omitempty" msgpack:"cmd"`
	Faction string   `json:"faction" msgpack:"faction"`
	Type    string   `json:"type,omitempty" msgpack:"type"`
	Lane    string   `json:"lane,omitempty" msgpack:"lane"`
	X       *float64 `json:"x,omitempty" msgpack:"x"`
	Y       *float64 `json:"y,omitempty" msgpack:"y"`
}

// CommandResult is the reply to a Command.
type CommandResult struct {
	Cmd     string      `json:"cmd" msgpack:"cmd"`
	Success bool        `json:"success" msgpack:"success"`
	ID      game.UnitID `json:"id,omitempty" msgpack:"id,omitempty"`
	Error   string      `json:"error,omitempty" msgpack:"error,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

// Execute validates c and runs it against engine. Validation failures are
// errors; rejections by the simulation are a false Success.
func (c Command) Execute(engine EngineInterface) (CommandResult, error) {
	res := CommandResult{Cmd: c.Cmd}

	f, ok := game.ParseFaction(c.Faction)
	if !ok || !f.Playable() {
		return res, errors.Errorf("invalid faction %q", c.Faction)
	}

	switch c.Cmd {
	case "recall":
		res.Success = engine.TriggerRecall(f)
		RecordCommand(c.Cmd, res.Success)
		return res, nil
	case "purchase", "spawn":
	default:
		return res, errors.Wrap(errUnknownCommand, c.Cmd)
	}

	t, ok := game.ParseUnitType(c.Type)
	if !ok {
		return res, errors.Errorf("invalid unit type %q", c.Type)
	}
	lane := game.LaneNone
	if c.Lane != "" {
		if lane = game.ParseLane(c.Lane); lane == game.LaneNone {
			return res, errors.Errorf("invalid lane %q", c.Lane)
		}
	}

	if c.Cmd == "purchase" {
		res.Success = engine.PurchaseUnit(f, t, lane)
	} else {
		var pos *game.Vec2
		if c.X != nil && c.Y != nil {
			pos = &game.Vec2{X: *c.X, Y: *c.Y}
		}
		res.ID = engine.SpawnUnit(f, t, lane, pos)
		res.Success = res.ID != game.NoUnit
	}
	RecordCommand(c.Cmd, res.Success)
	return res, nil
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	if snap == nil {
		writeError(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

// veteran is a unit ranked by lifetime kills.
type veteran struct {
	ID      game.UnitID `json:"id"`
	Faction string      `json:"faction"`
	Type    string      `json:"type"`
	Kills   int         `json:"kills"`
	State   string      `json:"state"`
}

// topVeterans returns units with kills, most first, ties by id.
func topVeterans(units []game.UnitSnapshot, limit int) []veteran {
	out := make([]veteran, 0, limit)
	for _, u := range units {
		if u.Kills > 0 {
			out = append(out, veteran{ID: u.ID, Faction: u.Faction, Type: u.Type, Kills: u.Kills, State: u.State})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kills != out[j].Kills {
			return out[i].Kills > out[j].Kills
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	if snap == nil {
		writeError(w, "No snapshot yet", http.StatusServiceUnavailable)
		return
	}

	stats := map[string]interface{}{
		"matchId":  snap.MatchID,
		"tick":     snap.Tick,
		"time":     snap.Time,
		"gameOver": snap.GameOver,
		"winner":   snap.Winner,
		"factions": snap.Factions,
		"veterans": topVeterans(snap.Units, veteranLimit),
		"eventLog": h.engine.GetEventLogStats(),
	}
	if h.aiStats != nil {
		stats["ai"] = h.aiStats()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Layout())
}

func (h *routerHandlers) handleGetMinimap(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.minimap.EncodePNG(w, h.engine.GetSnapshot()); err != nil {
		log.Printf("❌ Minimap encode failed: %v", err)
	}
}

func (h *routerHandlers) handlePurchase(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "purchase")
}

func (h *routerHandlers) handleRecall(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "recall")
}

func (h *routerHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "spawn")
}

func (h *routerHandlers) runCommand(w http.ResponseWriter, r *http.Request, cmd string) {
	var c Command
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	c.Cmd = cmd

	res, err := c.Execute(h.engine)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, res)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
