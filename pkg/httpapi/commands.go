package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// command is the client→server message shape on the commands channel:
// {"action": "nl_query"|"trigger_scenario", "payload": {...}}.
type command struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

var commandsUpgrader = websocket.Upgrader{}

// handleCommands upgrades the commands ingress and processes each
// incoming command independently; one bad command never closes the
// socket for the rest of the session.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	commandsUpgrader.CheckOrigin = func(r *http.Request) bool {
		return s.originAllowed(r.Header.Get("Origin"))
	}

	conn, err := commandsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("httpapi: commands websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		conn.WriteJSON(s.dispatchCommand(r.Context(), cmd))
	}
}

func (s *Server) dispatchCommand(ctx context.Context, cmd command) map[string]any {
	switch cmd.Action {
	case "nl_query":
		return s.handleNLQuery(ctx, cmd.Payload)
	case "trigger_scenario":
		return s.handleTriggerScenario(cmd.Payload)
	default:
		return map[string]any{"error": "unknown_action", "action": cmd.Action}
	}
}

func (s *Server) handleNLQuery(ctx context.Context, payload map[string]any) map[string]any {
	if s.strategic == nil {
		return map[string]any{"error": "strategic agent not configured"}
	}
	message, _ := payload["message"].(string)
	if message == "" {
		return map[string]any{"error": "payload.message is required"}
	}
	escalation, _ := payload["escalation"].(bool)

	response := s.strategic.Query(ctx, message, escalation)
	return map[string]any{"response": response}
}

// scenarios are the named, pre-baked grid disturbances the demo UI can
// trigger without the caller having to know gridsim's internal ids —
// grounded on spec.md's literal end-to-end scenarios (line overload,
// voltage collapse, cascading line trip).
var scenarios = map[string]func(s *Server, payload map[string]any) error{
	"line_overload": func(s *Server, payload map[string]any) error {
		bus := intOr(payload, "bus", 7)
		deltaMW := floatOr(payload, "delta_mw", 50)
		return s.sim.InjectLoadChange(bus, deltaMW, 0)
	},
	"voltage_collapse": func(s *Server, payload map[string]any) error {
		deltaMW := floatOr(payload, "delta_mw", 20)
		for _, bus := range []int{10, 12, 14, 15} {
			if err := s.sim.InjectLoadChange(bus, deltaMW, 0); err != nil {
				return err
			}
		}
		return nil
	},
	"line_trip": func(s *Server, payload map[string]any) error {
		line := intOr(payload, "line", 0)
		return s.sim.TripLine(line)
	},
}

func (s *Server) handleTriggerScenario(payload map[string]any) map[string]any {
	if s.sim == nil {
		return map[string]any{"error": "simulation not configured"}
	}
	name, _ := payload["name"].(string)
	scenario, ok := scenarios[name]
	if !ok {
		return map[string]any{"error": "unknown_scenario", "name": name}
	}
	if err := scenario(s, payload); err != nil {
		return map[string]any{"error": err.Error(), "name": name}
	}
	return map[string]any{"status": "triggered", "name": name}
}

func intOr(payload map[string]any, key string, def int) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return def
}

func floatOr(payload map[string]any, key string, def float64) float64 {
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return def
}
