// Command grid-guardian wires the full supervisory control plane for the
// simulated IEEE 30-bus transmission grid and serves its external shell.
// Construction order mirrors the dependency chain: simulation facade,
// audit log, event bus, registry, endpoints, tool catalog, memory, policy
// oracles, guardian, strategic agent, monitoring loop, external service
// shell.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ocx/gridguardian/internal/circuitbreaker"
	"github.com/ocx/gridguardian/internal/config"
	"github.com/ocx/gridguardian/pkg/agent"
	"github.com/ocx/gridguardian/pkg/audit"
	"github.com/ocx/gridguardian/pkg/domain"
	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/guardian"
	"github.com/ocx/gridguardian/pkg/httpapi"
	"github.com/ocx/gridguardian/pkg/llm"
	"github.com/ocx/gridguardian/pkg/memory"
	"github.com/ocx/gridguardian/pkg/monitor"
	"github.com/ocx/gridguardian/pkg/registry"
	"github.com/ocx/gridguardian/pkg/toolcatalog"
)

func main() {
	// .env is a local-dev convenience; a missing file is normal in any
	// deployed environment where configuration arrives as real env vars.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("grid-guardian: failed to load .env file", "error", err)
	}

	cfg := config.Get()

	// C1: simulation facade
	sim := gridsim.New()

	// C3: audit log
	auditLog, err := audit.Open("audit.jsonl")
	if err != nil {
		log.Fatalf("grid-guardian: failed to open audit log: %v", err)
	}
	defer auditLog.Close()

	// C2: event bus
	bus := eventbus.New()

	// C4: registry, restored from its last snapshot if one exists. When
	// REGISTRY_REDIS_ADDR is set, a Redis mirror backs every mutation so a
	// second instance joining the deployment sees the same endpoint set.
	reg := registry.New(cfg.Registry.SnapshotPath)
	if cfg.Registry.RedisAddr != "" {
		mirror := registry.NewRedisMirror(cfg.Registry.RedisAddr, "", 0)
		defer mirror.Close()
		reg.SetMirror(mirror)
	}
	if err := reg.LoadSnapshot(); err != nil {
		slog.Warn("grid-guardian: failed to load registry snapshot", "error", err)
	}
	reg.StartSweeper()
	defer reg.StopSweeper()

	// C5: endpoints, from the power-grid domain adapter
	adapter := domain.NewPowerGrid()
	sensors := adapter.CreateSensors(sim)
	actuators := adapter.CreateActuators(sim)
	coordinators := adapter.CreateCoordinators(sim, bus, auditLog, cfg.Monitor.EscalationDeadband)

	catalog := toolcatalog.New()
	var allEndpoints []endpoint.Endpoint
	allEndpoints = append(allEndpoints, sensors...)
	allEndpoints = append(allEndpoints, actuators...)
	allEndpoints = append(allEndpoints, coordinators...)
	for _, ep := range allEndpoints {
		reg.Register(ep.Registration())
		catalog.RegisterLiveEndpoint(ep.ServerID(), ep)
	}
	catalog.Build(reg.FlattenTools())
	slog.Info("grid-guardian: endpoints registered", "sensors", len(sensors), "actuators", len(actuators), "coordinators", len(coordinators), "tools", catalog.Count())

	// C11: context memory, degrades to an in-process store if no database
	// is configured
	var db *sql.DB
	if cfg.Memory.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Memory.DatabaseURL)
		if err != nil {
			slog.Warn("grid-guardian: failed to open memory database, falling back to in-process store", "error", err)
			db = nil
		}
	}
	mem, err := memory.New(db)
	if err != nil {
		log.Fatalf("grid-guardian: failed to initialize memory store: %v", err)
	}
	defer mem.Close()

	// Policy oracles. Demo mode skips the real endpoint and drives every
	// role off the mock client's fixed safe/low-risk response. Each real
	// oracle call is guarded by its own circuit breaker so a down model
	// endpoint fails fast instead of blocking every cycle on a timeout.
	breakers := circuitbreaker.NewControlPlaneBreakers()
	guardianOracle := llm.NewBreakerClient(newOracle(cfg, llm.RoleGuardian, cfg.LLM.GuardianModel), breakers.GuardianLLM)
	strategicOracle := llm.NewBreakerClient(newOracle(cfg, llm.RoleStrategic, cfg.LLM.StrategicModel), breakers.StrategicLLM)

	// C8: safety guardian
	safetyGuardian := guardian.New(guardianOracle, bus)

	// C9: strategic agent, gated by the safety guardian for every
	// actuator-category tool call it makes
	strategicAgent := agent.New(strategicOracle, mem, reg, catalog, bus)
	strategicAgent.SetGuardian(safetyGuardian)
	discovered := strategicAgent.DiscoverTools()
	slog.Info("grid-guardian: strategic agent discovered tools", "count", discovered)

	// C10: monitoring loop, one zone engine per zone coordinator
	zones := make(map[string]monitor.ZoneEngine, len(coordinators))
	for _, c := range coordinators {
		if z, ok := c.(monitor.ZoneEngine); ok {
			zones[z.ZoneID()] = z
		}
	}
	interval := time.Duration(cfg.Monitor.IntervalSec) * time.Second
	monitorLoop := monitor.New(sim, zones, strategicAgent, bus, interval)
	monitorLoop.SetVaryLoads(cfg.Monitor.VaryLoads)

	ctx, cancel := context.WithCancel(context.Background())
	go monitorLoop.Start(ctx)

	// C12: external service shell
	server := httpapi.New(reg, catalog, bus, strategicAgent, sim, cfg.Server.CORSAllowOrigins)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("grid-guardian: shutdown signal received, stopping monitoring loop")
		monitorLoop.Stop()
		cancel()
		os.Exit(0)
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("grid-guardian: listening", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Fatalf("grid-guardian: server failed: %v", err)
	}
}

// newOracle selects between a real HTTP-backed model endpoint and the
// deterministic mock, controlled by demo mode.
func newOracle(cfg *config.Config, role llm.Role, model string) llm.Client {
	if cfg.Demo.Mode || cfg.LLM.BaseURL == "" {
		slog.Info("grid-guardian: using mock policy oracle", "role", role, "model", model)
		return llm.NewMockClient(model, nil)
	}
	return llm.NewHTTPClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          model,
		ContextWindow:  cfg.LLM.ContextWindow,
		RequestTimeout: time.Duration(cfg.LLM.RequestTimeoutMs) * time.Millisecond,
	})
}
