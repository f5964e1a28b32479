package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ocx/gridguardian/pkg/metrics"
)

const (
	sweepInterval   = 30 * time.Second
	staleAfter      = 60 * time.Second
)

// Registry is the thread-safe in-memory endpoint catalog. One mutex guards
// the map; reads snapshot it under the lock so iteration never happens
// while holding it, matching the single-mutex-around-the-map design used
// throughout this lineage's in-memory stores.
type Registry struct {
	mu           sync.RWMutex
	servers      map[string]Registration
	snapshotPath string
	mirror       *RedisMirror

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New constructs a Registry. snapshotPath may be empty to disable JSON
// persistence (tests, or a caller that wires a Redis mirror instead).
func New(snapshotPath string) *Registry {
	return &Registry{
		servers:      make(map[string]Registration),
		snapshotPath: snapshotPath,
		stopSweep:    make(chan struct{}),
	}
}

// SetMirror wires a Redis-backed mirror of the registry's snapshot. Unset,
// the registry only persists to its local snapshot file (if any); this is
// purely additive and never gates a mutation on Redis being reachable.
func (r *Registry) SetMirror(m *RedisMirror) {
	r.mirror = m
}

// Register upserts reg: registered_at and last_heartbeat are bumped to now
// and status is forced to active, matching the original's "register always
// reactivates" semantics.
func (r *Registry) Register(reg Registration) Registration {
	r.mu.Lock()
	now := time.Now()
	reg.RegisteredAt = now
	reg.LastHeartbeat = now
	reg.Status = StatusActive
	r.servers[reg.ServerID] = reg
	r.mu.Unlock()

	r.persist()
	r.refreshGauges()
	return reg
}

// Unregister removes id from the registry. Returns false if id was not
// present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, existed := r.servers[id]
	delete(r.servers, id)
	r.mu.Unlock()

	if existed {
		r.persist()
		r.refreshGauges()
	}
	return existed
}

// Heartbeat bumps id's last_heartbeat and reactivates it to active. Returns
// false if id was not present.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	reg, ok := r.servers[id]
	if ok {
		reg.LastHeartbeat = time.Now()
		reg.Status = StatusActive
		r.servers[id] = reg
	}
	r.mu.Unlock()

	if ok {
		r.persist()
		r.refreshGauges()
	}
	return ok
}

// Get looks up a single registration by id.
func (r *Registry) Get(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.servers[id]
	return reg, ok
}

// List returns every registration matching filter.
func (r *Registry) List(filter ListFilter) []Registration {
	r.mu.RLock()
	snapshot := make([]Registration, 0, len(r.servers))
	for _, reg := range r.servers {
		snapshot = append(snapshot, reg)
	}
	r.mu.RUnlock()

	out := make([]Registration, 0, len(snapshot))
	for _, reg := range snapshot {
		if filter.matches(reg) {
			out = append(out, reg)
		}
	}
	return out
}

// Count returns the total number of registered and currently active
// endpoints, for the /health surface.
func (r *Registry) Count() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.servers)
	for _, reg := range r.servers {
		if reg.Status == StatusActive {
			active++
		}
	}
	return total, active
}

// FlattenTools builds the flat tool-with-server list C6 dispatches from.
// Stale and offline endpoints are still included here — C6 leaves them out
// when it builds its catalog; registry staleness is only a status.
func (r *Registry) FlattenTools() []ToolWithServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ToolWithServer
	for _, reg := range r.servers {
		for _, tool := range reg.Tools {
			out = append(out, ToolWithServer{
				Tool:     tool,
				ServerID: reg.ServerID,
				Server:   reg.Name,
				Zone:     reg.Zone,
				Status:   reg.Status,
			})
		}
	}
	return out
}

// StartSweeper launches the background staleness sweeper: every 30s, any
// active endpoint whose heartbeat age exceeds 60s is marked stale. Stale
// endpoints remain queryable but must not be considered for dispatch.
// Idempotent — calling it more than once only starts one goroutine.
func (r *Registry) StartSweeper() {
	r.sweepOnce.Do(func() {
		go r.sweepLoop()
	})
}

// StopSweeper stops the background sweeper goroutine.
func (r *Registry) StopSweeper() {
	select {
	case <-r.stopSweep:
	default:
		close(r.stopSweep)
	}
}

func (r *Registry) sweepLoop() {
	for {
		select {
		case <-r.stopSweep:
			return
		case <-time.After(sweepInterval):
			r.sweepNow()
		}
	}
}

func (r *Registry) sweepNow() {
	now := time.Now()
	changed := false

	r.mu.Lock()
	for id, reg := range r.servers {
		if reg.Status == StatusActive && now.Sub(reg.LastHeartbeat) > staleAfter {
			reg.Status = StatusStale
			r.servers[id] = reg
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.persist()
		r.refreshGauges()
	}
}

// refreshGauges recomputes the registered-endpoint count by status and
// updates the Prometheus gauge, called after every mutation.
func (r *Registry) refreshGauges() {
	r.mu.RLock()
	counts := make(map[Status]int)
	for _, reg := range r.servers {
		counts[reg.Status]++
	}
	r.mu.RUnlock()

	for status, n := range counts {
		metrics.RegisteredEndpoints.WithLabelValues(string(status)).Set(float64(n))
	}
}

// persist atomically writes the current registry state to snapshotPath via
// a temp-file-then-rename, matching the original's save_to_file contract.
// A write failure is logged and swallowed — persistence is best-effort.
func (r *Registry) persist() {
	r.mu.RLock()
	snapshot := make([]Registration, 0, len(r.servers))
	for _, reg := range r.servers {
		snapshot = append(snapshot, reg)
	}
	r.mu.RUnlock()

	if r.mirror != nil {
		mirrorWarn("save", r.mirror.Save(context.Background(), snapshot))
	}

	if r.snapshotPath == "" {
		return
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		slog.Warn("registry: failed to marshal snapshot", "error", err)
		return
	}

	dir := filepath.Dir(r.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".registry-snapshot-*")
	if err != nil {
		slog.Warn("registry: failed to create temp snapshot file", "error", err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		slog.Warn("registry: failed to write temp snapshot file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		slog.Warn("registry: failed to close temp snapshot file", "error", err)
		return
	}
	if err := os.Rename(tmpPath, r.snapshotPath); err != nil {
		slog.Warn("registry: failed to rename snapshot into place", "error", err)
	}
}

// LoadSnapshot restores a registry from a previously persisted JSON
// snapshot file, falling back to the Redis mirror (if one is wired) when no
// local file exists yet — the case for a freshly scheduled replica joining
// a deployment another instance already populated. Missing file and missing
// mirror key are both not errors: the registry just starts empty.
func (r *Registry) LoadSnapshot() error {
	snapshot, err := r.loadLocalSnapshot()
	if err != nil {
		return err
	}

	if snapshot == nil && r.mirror != nil {
		snapshot, err = r.mirror.Load(context.Background())
		if err != nil {
			slog.Warn("registry: failed to load snapshot from redis mirror", "error", err)
			snapshot = nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range snapshot {
		r.servers[reg.ServerID] = reg
	}
	return nil
}

func (r *Registry) loadLocalSnapshot() ([]Registration, error) {
	if r.snapshotPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(r.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: failed to read snapshot: %w", err)
	}

	var snapshot []Registration
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("registry: failed to parse snapshot: %w", err)
	}
	return snapshot, nil
}
