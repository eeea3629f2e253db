// Package output carries engine messages to their destination. The engine
// only knows the Sink contract; concrete sinks beyond stdout, the in-memory
// collector and the local ndjson directory live in sink collaborators.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/restlake/restlake/internal/protocol"
)

// Sink receives every message the engine emits, in order.
type Sink interface {
	Emit(msg *protocol.Message) error
	Close() error
}

// JSONSink writes one JSON message per line.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONSink wraps w with the ndjson protocol writer.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

// Emit implements Sink.
func (s *JSONSink) Emit(msg *protocol.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(s.w, string(raw))
	return err
}

// Close implements Sink.
func (s *JSONSink) Close() error { return nil }

// PrettySink writes a human-readable rendering of the protocol.
type PrettySink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrettySink wraps w with the human-readable writer.
func NewPrettySink(w io.Writer) *PrettySink {
	return &PrettySink{w: w}
}

// Emit implements Sink.
func (s *PrettySink) Emit(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Type {
	case protocol.TypeLog:
		_, err := fmt.Fprintf(s.w, "[%s] %s\n", msg.Log.Level, msg.Log.Message)
		return err
	case protocol.TypeRecord:
		raw, _ := json.Marshal(msg.Record.Data)
		_, err := fmt.Fprintf(s.w, "%s: %s\n", msg.Record.Stream, string(raw))
		return err
	case protocol.TypeSyncSummary:
		raw, _ := json.MarshalIndent(msg.Summary, "", "  ")
		_, err := fmt.Fprintf(s.w, "--- sync summary ---\n%s\n", string(raw))
		return err
	case protocol.TypeState:
		raw, _ := json.Marshal(msg.State.Data)
		if msg.State.Stream != "" {
			_, err := fmt.Fprintf(s.w, "state[%s]: %s\n", msg.State.Stream, string(raw))
			return err
		}
		_, err := fmt.Fprintf(s.w, "state: %s\n", string(raw))
		return err
	default:
		raw, _ := json.Marshal(msg)
		_, err := fmt.Fprintln(s.w, string(raw))
		return err
	}
}

// Close implements Sink.
func (s *PrettySink) Close() error { return nil }

// Collector buffers messages in memory; the HTTP surface uses it to return
// records inside the response body.
type Collector struct {
	mu       sync.Mutex
	messages []*protocol.Message
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit implements Sink.
func (c *Collector) Emit(msg *protocol.Message) error {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return nil
}

// Close implements Sink.
func (c *Collector) Close() error { return nil }

// Records returns the data of every RECORD message received so far.
func (c *Collector) Records() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, msg := range c.messages {
		if msg.Type == protocol.TypeRecord {
			out = append(out, msg.Record.Data)
		}
	}
	return out
}

// Messages returns everything received so far.
func (c *Collector) Messages() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Message, len(c.messages))
	copy(out, c.messages)
	return out
}
