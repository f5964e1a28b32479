// Package httpapi is the external service shell: the registry CRUD and
// tool-listing surface plus websocket subscriptions for the event bus
// channels and a command ingress. Adapted from the teacher's
// internal/api.APIServer (gorilla/mux router, CORS middleware, one
// handler per concern) generalized from a single allow-all origin to one
// configured allow-list entry.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/gridguardian/pkg/agent"
	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/registry"
	"github.com/ocx/gridguardian/pkg/toolcatalog"
)

// Server is the HTTP/websocket external shell.
type Server struct {
	reg          *registry.Registry
	catalog      *toolcatalog.Catalog
	bus          *eventbus.Bus
	strategic    *agent.Agent
	sim          *gridsim.Simulation
	allowOrigins []string

	hubs map[string]*ChannelHub
}

// New constructs a Server. allowOrigins lists the exact Origin header
// values permitted cross-origin access; an empty list permits none.
func New(reg *registry.Registry, catalog *toolcatalog.Catalog, bus *eventbus.Bus, strategic *agent.Agent, sim *gridsim.Simulation, allowOrigins []string) *Server {
	s := &Server{
		reg:          reg,
		catalog:      catalog,
		bus:          bus,
		strategic:    strategic,
		sim:          sim,
		allowOrigins: allowOrigins,
		hubs:         make(map[string]*ChannelHub),
	}
	for _, channel := range []string{eventbus.ChannelGridState, eventbus.ChannelAgentLog, eventbus.ChannelGuardianEvent} {
		s.hubs[channel] = NewChannelHub(bus, channel, s.originAllowed)
	}
	return s
}

// Router builds the mux.Router exposing every HTTP and websocket route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/unregister/{id}", s.handleUnregister).Methods(http.MethodDelete)
	r.HandleFunc("/heartbeat/{id}", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/servers", s.handleListServers).Methods(http.MethodGet)
	r.HandleFunc("/servers/{id}", s.handleGetServer).Methods(http.MethodGet)
	r.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	r.HandleFunc("/tools/{name}", s.handleGetTool).Methods(http.MethodGet)

	r.HandleFunc("/ws/grid_state", s.hubs[eventbus.ChannelGridState].HandleWebSocket)
	r.HandleFunc("/ws/agent_log", s.hubs[eventbus.ChannelAgentLog].HandleWebSocket)
	r.HandleFunc("/ws/guardian_event", s.hubs[eventbus.ChannelGuardianEvent].HandleWebSocket)
	r.HandleFunc("/ws/commands", s.handleCommands)

	return r
}

// Run starts every channel hub's broadcast loop and blocks serving HTTP on
// addr.
func (s *Server) Run(addr string) error {
	for _, hub := range s.hubs {
		go hub.Run()
	}
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.allowOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	total, active := s.reg.Count()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"total_servers":  total,
		"active_servers": active,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg registry.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stored := s.reg.Register(reg)
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.reg.Unregister(id) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "server_id": id})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.reg.Heartbeat(id) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "server_id": id})
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.ListFilter{
		Tier:   registry.Tier(q.Get("layer")),
		Domain: q.Get("domain"),
		Zone:   q.Get("zone"),
		Status: registry.Status(q.Get("status")),
	}
	writeJSON(w, http.StatusOK, s.reg.List(filter))
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reg, ok := s.reg.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.reg.FlattenTools()
	if domain := r.URL.Query().Get("domain"); domain != "" {
		filtered := tools[:0]
		for _, t := range tools {
			if t.Server == domain {
				filtered = append(filtered, t)
			}
		}
		tools = filtered
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var matches []registry.ToolWithServer
	for _, t := range s.reg.FlattenTools() {
		if t.Tool.Name == name {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
