// Package audit is the durable, append-only event journal. It is an
// observer, never on the critical path: a write failure is logged and
// swallowed, not propagated, matching the teacher lineage's escrow logging
// style of "record what you can, never block the caller on it."
package audit

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Entry is one immutable audit record.
type Entry struct {
	Timestamp   time.Time      `json:"timestamp"`
	Zone        string         `json:"zone"`
	EventType   string         `json:"event_type"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ActionTaken string         `json:"action_taken,omitempty"`
}

// Event type constants used by the zone protection engine.
const (
	EventRelayTrip       = "RELAY_TRIP"
	EventEscalation      = "ESCALATION"
	EventSettingsUpdated = "SETTINGS_UPDATED"
)

// Log is a single-file embedded append-only journal. Writes are serialized
// by mu; the in-memory slice is the source of truth for queries, and the
// backing file exists purely for crash-local durability across restarts.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	path    string
	file    *os.File
}

// Open creates or appends to the journal file at path. An empty path
// disables file persistence entirely (in-memory only, useful for tests).
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	if path == "" {
		return l, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("audit: could not open journal file, continuing in-memory only", "path", path, "error", err)
		return l, nil
	}
	l.file = f
	l.replay()
	return l, nil
}

// replay loads any previously persisted entries back into memory.
func (l *Log) replay() {
	if l.file == nil {
		return
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return
	}
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			l.entries = append(l.entries, e)
		}
	}
	l.file.Seek(0, 2)
}

// Append writes an entry, totally ordered by arrival. A persistence failure
// is logged and swallowed: the journal never blocks or fails its caller.
func (l *Log) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)

	if l.file == nil {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		slog.Warn("audit: failed to marshal entry, dropping from journal file", "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		slog.Warn("audit: failed to persist entry, continuing in-memory only", "error", err)
	}
}

// Recent returns the most recent n entries globally, newest last.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lastN(l.entries, n)
}

// RecentForZone returns the most recent n entries for zone, newest last.
func (l *Log) RecentForZone(zone string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var filtered []Entry
	for _, e := range l.entries {
		if e.Zone == zone {
			filtered = append(filtered, e)
		}
	}
	return lastN(filtered, n)
}

func lastN(entries []Entry, n int) []Entry {
	if n <= 0 || n >= len(entries) {
		out := make([]Entry, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]Entry, n)
	copy(out, entries[len(entries)-n:])
	return out
}

// Close releases the backing file handle, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
