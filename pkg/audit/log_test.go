package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_RecentOrdersByArrival(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	l.Append(Entry{Zone: "zone1", EventType: EventRelayTrip, Message: "first"})
	l.Append(Entry{Zone: "zone2", EventType: EventRelayTrip, Message: "second"})
	l.Append(Entry{Zone: "zone1", EventType: EventEscalation, Message: "third"})

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Message)
	assert.Equal(t, "third", recent[1].Message)
}

func TestRecentForZone_FiltersByZone(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	l.Append(Entry{Zone: "zone1", Message: "a"})
	l.Append(Entry{Zone: "zone2", Message: "b"})
	l.Append(Entry{Zone: "zone1", Message: "c"})

	zone1 := l.RecentForZone("zone1", 10)
	require.Len(t, zone1, 2)
	assert.Equal(t, "a", zone1[0].Message)
	assert.Equal(t, "c", zone1[1].Message)
}

func TestOpen_PersistsAndReplaysAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l1, err := Open(path)
	require.NoError(t, err)
	l1.Append(Entry{Zone: "zone3", EventType: EventEscalation, Message: "persisted"})
	require.NoError(t, l1.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	entries := l2.Recent(10)
	require.Len(t, entries, 1)
	assert.Equal(t, "persisted", entries[0].Message)
}
