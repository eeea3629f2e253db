package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/protocol"
)

// DirSink writes records as newline-delimited JSON files laid out as
// <base>/<stream>/dt=YYYY-MM-DD/data.jsonl, where dt is the ingestion date
// (UTC). Non-record messages pass through to the inner sink.
type DirSink struct {
	base  string
	inner Sink

	mu    sync.Mutex
	files map[string]*os.File
}

// NewDirSink builds a directory sink rooted at base. Cloud URLs and columnar
// formats belong to sink collaborators and are rejected here.
func NewDirSink(base string, inner Sink) (*DirSink, error) {
	for _, scheme := range []string{"s3://", "r2://", "gs://", "az://"} {
		if strings.HasPrefix(base, scheme) {
			return nil, connector.Errorf("output %s requires the cloud sink collaborator; only local directories are bundled", base)
		}
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &DirSink{base: base, inner: inner, files: map[string]*os.File{}}, nil
}

// Emit implements Sink.
func (s *DirSink) Emit(msg *protocol.Message) error {
	if msg.Type != protocol.TypeRecord {
		return s.inner.Emit(msg)
	}

	f, err := s.file(msg.Record.Stream)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg.Record.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(f, string(raw))
	return err
}

func (s *DirSink) file(stream string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[stream]; ok {
		return f, nil
	}
	dir := filepath.Join(s.base, stream, "dt="+time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stream directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "data.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	s.files[stream] = f
	return f, nil
}

// Close implements Sink.
func (s *DirSink) Close() error {
	s.mu.Lock()
	for _, f := range s.files {
		f.Close()
	}
	s.files = map[string]*os.File{}
	s.mu.Unlock()
	return s.inner.Close()
}
