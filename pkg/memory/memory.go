// Package memory is the strategic agent's context store: prior
// decisions and point-in-time context snapshots, queryable for the
// summary the agent folds into its next prompt. Grounded on
// original_source/.../strategic/memory.py's two-table shape (decisions,
// context_snapshots), with the optional-Postgres injection pattern
// adapted from the teacher's internal/reputation.NewReputationWallet(db
// *sql.DB): a nil *sql.DB degrades silently to the in-process store.
package memory

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Decision is one record of a strategic agent reasoning pass.
type Decision struct {
	DecisionID string    `json:"decision_id"`
	Trigger    string    `json:"trigger"`
	Reasoning  string    `json:"reasoning"`
	Actions    []string  `json:"actions_taken,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// snapshot is one stored context_snapshots row.
type snapshot struct {
	Key       string
	Value     string // JSON-encoded
	Timestamp time.Time
}

// Store is the agent's context memory. A nil db falls back to the
// in-process slices/maps guarded by mu; a non-nil db persists through
// Postgres instead, matching the shape of the in-memory API exactly so
// callers never branch on which backing is active.
type Store struct {
	db *sql.DB

	mu        sync.RWMutex
	decisions []Decision
	snapshots map[string][]snapshot
}

// New constructs a Store. db may be nil, in which case the store is
// purely in-process for the lifetime of the run.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, snapshots: make(map[string][]snapshot)}
	if db == nil {
		return s, nil
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			trigger TEXT NOT NULL,
			reasoning TEXT,
			actions TEXT,
			outcome TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS context_snapshots (
			id SERIAL PRIMARY KEY,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(timestamp);
		CREATE INDEX IF NOT EXISTS idx_context_key ON context_snapshots(key);
	`)
	return err
}

// StoreDecision persists one decision, stamping Timestamp if unset.
func (s *Store) StoreDecision(d Decision) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	if s.db != nil {
		actions, _ := json.Marshal(d.Actions)
		_, err := s.db.Exec(
			`INSERT INTO decisions (id, trigger, reasoning, actions, outcome, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET trigger=$2, reasoning=$3, actions=$4, outcome=$5, timestamp=$6`,
			d.DecisionID, d.Trigger, d.Reasoning, string(actions), d.Outcome, d.Timestamp,
		)
		if err != nil {
			slog.Warn("memory: failed to persist decision, continuing in-memory only", "error", err)
		} else {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
}

// GetRecentDecisions returns up to limit decisions, most recent first.
func (s *Store) GetRecentDecisions(limit int) []Decision {
	if s.db != nil {
		rows, err := s.db.Query(
			`SELECT id, trigger, reasoning, outcome, timestamp FROM decisions ORDER BY timestamp DESC LIMIT $1`,
			limit,
		)
		if err == nil {
			defer rows.Close()
			var out []Decision
			for rows.Next() {
				var d Decision
				if err := rows.Scan(&d.DecisionID, &d.Trigger, &d.Reasoning, &d.Outcome, &d.Timestamp); err == nil {
					out = append(out, d)
				}
			}
			return out
		}
		slog.Warn("memory: failed to query decisions, falling back to in-memory view", "error", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := make([]Decision, len(s.decisions))
	copy(ordered, s.decisions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.After(ordered[j].Timestamp) })
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}
	return ordered
}

// GetDecision looks up one decision by id, or ok=false if not found.
func (s *Store) GetDecision(id string) (Decision, bool) {
	if s.db != nil {
		var d Decision
		err := s.db.QueryRow(
			`SELECT id, trigger, reasoning, outcome, timestamp FROM decisions WHERE id = $1`, id,
		).Scan(&d.DecisionID, &d.Trigger, &d.Reasoning, &d.Outcome, &d.Timestamp)
		if err == nil {
			return d, true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.decisions {
		if d.DecisionID == id {
			return d, true
		}
	}
	return Decision{}, false
}

// StoreContext appends a timestamped context_snapshots row under key.
func (s *Store) StoreContext(key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		slog.Warn("memory: failed to encode context snapshot", "key", key, "error", err)
		return
	}
	ts := time.Now()

	if s.db != nil {
		_, err := s.db.Exec(
			`INSERT INTO context_snapshots (key, value, timestamp) VALUES ($1, $2, $3)`,
			key, string(encoded), ts,
		)
		if err != nil {
			slog.Warn("memory: failed to persist context snapshot, continuing in-memory only", "error", err)
		} else {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = append(s.snapshots[key], snapshot{Key: key, Value: string(encoded), Timestamp: ts})
}

// GetLatestContext returns the most recent snapshot stored under key,
// unmarshaled into out, or ok=false if none exists.
func (s *Store) GetLatestContext(key string, out any) bool {
	var raw string

	if s.db != nil {
		err := s.db.QueryRow(
			`SELECT value FROM context_snapshots WHERE key = $1 ORDER BY timestamp DESC LIMIT 1`, key,
		).Scan(&raw)
		if err == nil {
			return json.Unmarshal([]byte(raw), out) == nil
		}
	}

	s.mu.RLock()
	rows := s.snapshots[key]
	s.mu.RUnlock()
	if len(rows) == 0 {
		return false
	}
	latest := rows[len(rows)-1]
	return json.Unmarshal([]byte(latest.Value), out) == nil
}

// GetContextSummary builds the plain-text block the agent folds into
// its next prompt: a decision count plus up to three recent triggers.
func (s *Store) GetContextSummary() string {
	recent := s.GetRecentDecisions(3)
	total := s.countDecisions()
	if total == 0 {
		return "No previous decisions on record."
	}

	summary := "Total decisions in memory: " + strconv.Itoa(total)
	for _, d := range recent {
		trigger := d.Trigger
		if len(trigger) > 80 {
			trigger = trigger[:80]
		}
		summary += "\n  - [" + d.Timestamp.Format(time.RFC3339) + "] " + trigger
	}
	return summary
}

func (s *Store) countDecisions() int {
	if s.db != nil {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM decisions`).Scan(&count); err == nil {
			return count
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.decisions)
}

// Close releases the backing database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
