// Package state tracks per-stream and per-partition sync progress and
// persists it between runs as plain JSON.
package state

import "encoding/json"

// State is the complete serialized progress for a connector.
type State struct {
	Streams map[string]*StreamState `json:"streams"`
}

// New returns an empty state.
func New() *State {
	return &State{Streams: map[string]*StreamState{}}
}

// StreamState tracks a single stream's cursor and partition progress.
type StreamState struct {
	Cursor     string                     `json:"cursor,omitempty"`
	Partitions map[string]*PartitionState `json:"partitions,omitempty"`
}

// PartitionState tracks one partition within a stream.
type PartitionState struct {
	Cursor    string `json:"cursor,omitempty"`
	Completed bool   `json:"completed"`
}

// Stream returns the state for a stream, or nil.
func (s *State) Stream(name string) *StreamState {
	return s.Streams[name]
}

// StreamMut returns the state for a stream, creating it if needed.
func (s *State) StreamMut(name string) *StreamState {
	if s.Streams == nil {
		s.Streams = map[string]*StreamState{}
	}
	ss, ok := s.Streams[name]
	if !ok {
		ss = &StreamState{}
		s.Streams[name] = ss
	}
	return ss
}

// Cursor returns the stream cursor, or "".
func (s *State) Cursor(stream string) string {
	if ss := s.Streams[stream]; ss != nil {
		return ss.Cursor
	}
	return ""
}

// PartitionCompleted reports whether the partition finished in a prior run.
func (s *State) PartitionCompleted(stream, partitionID string) bool {
	ss := s.Streams[stream]
	if ss == nil || ss.Partitions == nil {
		return false
	}
	p := ss.Partitions[partitionID]
	return p != nil && p.Completed
}

// PartitionMut returns the partition state, creating it if needed.
func (ss *StreamState) PartitionMut(id string) *PartitionState {
	if ss.Partitions == nil {
		ss.Partitions = map[string]*PartitionState{}
	}
	p, ok := ss.Partitions[id]
	if !ok {
		p = &PartitionState{}
		ss.Partitions[id] = p
	}
	return p
}

// Clone deep-copies the state for snapshot-consistent observation.
func (s *State) Clone() *State {
	out := New()
	for name, ss := range s.Streams {
		cp := &StreamState{Cursor: ss.Cursor}
		if ss.Partitions != nil {
			cp.Partitions = make(map[string]*PartitionState, len(ss.Partitions))
			for id, p := range ss.Partitions {
				dup := *p
				cp.Partitions[id] = &dup
			}
		}
		out.Streams[name] = cp
	}
	return out
}

// AsValue renders the state as a generic JSON value for STATE messages.
func (s *State) AsValue() map[string]any {
	raw, _ := json.Marshal(s)
	var v map[string]any
	_ = json.Unmarshal(raw, &v)
	return v
}
