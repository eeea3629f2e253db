package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// CheckpointFunc receives a snapshot after every stream completes.
type CheckpointFunc func(*State)

// Store owns the mutable state during a sync. The engine orchestrator is the
// sole writer path; stream runners go through this narrow API.
type Store struct {
	mu         sync.RWMutex
	state      *State
	path       string
	checkpoint CheckpointFunc
}

// NewStore returns an in-memory store seeded with initial (may be nil).
func NewStore(initial *State) *Store {
	if initial == nil {
		initial = New()
	}
	return &Store{state: initial}
}

// FromJSON builds a store from an inline state JSON document.
func FromJSON(raw []byte) (*Store, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state JSON: %w", err)
	}
	if s.Streams == nil {
		s.Streams = map[string]*StreamState{}
	}
	return NewStore(&s), nil
}

// FromFile builds a store backed by a state file, loading it when present.
func FromFile(path string) (*Store, error) {
	st := New()
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, st); err != nil {
			return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
		}
		if st.Streams == nil {
			st.Streams = map[string]*StreamState{}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	store := NewStore(st)
	store.path = path
	return store, nil
}

// OnCheckpoint registers the checkpoint callback.
func (s *Store) OnCheckpoint(fn CheckpointFunc) {
	s.mu.Lock()
	s.checkpoint = fn
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Cursor returns the stream cursor, or "".
func (s *Store) Cursor(stream string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Cursor(stream)
}

// SetCursor replaces the stream cursor. Monotonicity is enforced by the
// caller, which owns the cursor ordering.
func (s *Store) SetCursor(stream, cursor string) {
	s.mu.Lock()
	s.state.StreamMut(stream).Cursor = cursor
	s.mu.Unlock()
}

// Touch ensures the stream has a state entry so checkpoints cover it.
func (s *Store) Touch(stream string) {
	s.mu.Lock()
	s.state.StreamMut(stream)
	s.mu.Unlock()
}

// PartitionCompleted reports whether the partition finished in a prior run.
func (s *Store) PartitionCompleted(stream, partitionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.PartitionCompleted(stream, partitionID)
}

// MarkPartitionCompleted records partition completion.
func (s *Store) MarkPartitionCompleted(stream, partitionID string) {
	s.mu.Lock()
	s.state.StreamMut(stream).PartitionMut(partitionID).Completed = true
	s.mu.Unlock()
}

// SetPartitionCursor records the partition's max observed cursor.
func (s *Store) SetPartitionCursor(stream, partitionID, cursor string) {
	s.mu.Lock()
	s.state.StreamMut(stream).PartitionMut(partitionID).Cursor = cursor
	s.mu.Unlock()
}

// Checkpoint invokes the registered callback with a snapshot and saves the
// backing file when one is configured.
func (s *Store) Checkpoint() error {
	snap := s.Snapshot()

	s.mu.RLock()
	fn := s.checkpoint
	s.mu.RUnlock()
	if fn != nil {
		fn(snap)
	}
	if s.path == "" {
		return nil
	}
	return writeFileAtomic(s.path, snap)
}

// SaveTo writes a snapshot to the given path atomically.
func (s *Store) SaveTo(path string) error {
	return writeFileAtomic(path, s.Snapshot())
}

// Path returns the backing file path, or "".
func (s *Store) Path() string { return s.path }

func writeFileAtomic(path string, st *State) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
