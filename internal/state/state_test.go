package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	s := New()
	s.StreamMut("customers").Cursor = "1500"
	s.StreamMut("commits").PartitionMut("42").Completed = true
	s.StreamMut("commits").PartitionMut("43").Cursor = "abc"

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var restored State
	require.NoError(t, json.Unmarshal(raw, &restored))

	assert.Equal(t, "1500", restored.Cursor("customers"))
	assert.True(t, restored.PartitionCompleted("commits", "42"))
	assert.False(t, restored.PartitionCompleted("commits", "43"))
	assert.Equal(t, "abc", restored.Streams["commits"].Partitions["43"].Cursor)

	// serialize -> parse -> serialize is the identity
	again, err := json.Marshal(&restored)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestStoreCursor(t *testing.T) {
	store := NewStore(nil)
	assert.Empty(t, store.Cursor("users"))

	store.SetCursor("users", "2024-01-01")
	assert.Equal(t, "2024-01-01", store.Cursor("users"))
}

func TestStorePartitions(t *testing.T) {
	store := NewStore(nil)
	assert.False(t, store.PartitionCompleted("s", "p1"))

	store.MarkPartitionCompleted("s", "p1")
	assert.True(t, store.PartitionCompleted("s", "p1"))
	assert.False(t, store.PartitionCompleted("s", "p2"))
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(nil)
	store.SetCursor("s", "1")

	snap := store.Snapshot()
	store.SetCursor("s", "2")

	assert.Equal(t, "1", snap.Cursor("s"))
	assert.Equal(t, "2", store.Cursor("s"))
}

func TestStoreFromJSON(t *testing.T) {
	store, err := FromJSON([]byte(`{"streams":{"customers":{"cursor":"1000"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "1000", store.Cursor("customers"))

	_, err = FromJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestStoreFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := FromFile(path)
	require.NoError(t, err)
	store.SetCursor("users", "99")
	store.MarkPartitionCompleted("users", "p0")
	require.NoError(t, store.Checkpoint())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "99", reloaded.Cursor("users"))
	assert.True(t, reloaded.PartitionCompleted("users", "p0"))
}

func TestStoreCheckpointCallback(t *testing.T) {
	store := NewStore(nil)
	var seen *State
	store.OnCheckpoint(func(s *State) { seen = s })

	store.SetCursor("s", "5")
	require.NoError(t, store.Checkpoint())
	require.NotNil(t, seen)
	assert.Equal(t, "5", seen.Cursor("s"))
}

func TestStateAsValue(t *testing.T) {
	s := New()
	s.StreamMut("c").Cursor = "7"
	v := s.AsValue()
	streams := v["streams"].(map[string]any)
	assert.Equal(t, "7", streams["c"].(map[string]any)["cursor"])
}
