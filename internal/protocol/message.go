// Package protocol defines the newline-delimited JSON message envelope the
// engine emits on stdout and mirrors in HTTP responses.
package protocol

import "time"

// Message type discriminators.
const (
	TypeLog              = "LOG"
	TypeRecord           = "RECORD"
	TypeState            = "STATE"
	TypeConnectionStatus = "CONNECTION_STATUS"
	TypeStreams          = "STREAMS"
	TypeCatalog          = "CATALOG"
	TypeSpec             = "SPEC"
	TypeSyncSummary      = "SYNC_SUMMARY"
)

// Log levels.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Message is the discriminated envelope.
type Message struct {
	Type             string            `json:"type"`
	Log              *Log              `json:"log,omitempty"`
	Record           *Record           `json:"record,omitempty"`
	State            *State            `json:"state,omitempty"`
	ConnectionStatus *ConnectionStatus `json:"connectionStatus,omitempty"`
	Streams          []string          `json:"streams,omitempty"`
	Catalog          *Catalog          `json:"catalog,omitempty"`
	Spec             map[string]any    `json:"spec,omitempty"`
	Summary          *SyncSummary      `json:"summary,omitempty"`
}

// Log is an operator-facing log line.
type Log struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Record is one extracted record.
type Record struct {
	Stream string         `json:"stream"`
	Data   map[string]any `json:"data"`
	// EmittedAt is milliseconds since epoch, UTC.
	EmittedAt int64 `json:"emitted_at"`
}

// State is a checkpoint: per-stream when Stream is set, global otherwise.
type State struct {
	Stream string         `json:"stream,omitempty"`
	Data   map[string]any `json:"data"`
}

// ConnectionStatus reports the check probe outcome.
type ConnectionStatus struct {
	Status  string `json:"status"` // SUCCEEDED | FAILED
	Message string `json:"message"`
}

// Catalog lists discoverable streams with schemas.
type Catalog struct {
	Streams []CatalogStream `json:"streams"`
}

// CatalogStream describes one stream in the catalog.
type CatalogStream struct {
	Name                    string     `json:"name"`
	JSONSchema              any        `json:"json_schema"`
	SupportedSyncModes      []string   `json:"supported_sync_modes"`
	SourceDefinedCursor     bool       `json:"source_defined_cursor"`
	DefaultCursorField      []string   `json:"default_cursor_field,omitempty"`
	SourceDefinedPrimaryKey [][]string `json:"source_defined_primary_key,omitempty"`
}

// SyncSummary is the terminal message of every sync.
type SyncSummary struct {
	Status            string         `json:"status"` // SUCCEEDED | PARTIAL | FAILED
	SyncID            string         `json:"sync_id"`
	Connector         string         `json:"connector"`
	TotalRecords      int            `json:"total_records"`
	TotalStreams      int            `json:"total_streams"`
	SuccessfulStreams int            `json:"successful_streams"`
	FailedStreams     int            `json:"failed_streams"`
	DurationMs        int64          `json:"duration_ms"`
	Output            *OutputInfo    `json:"output,omitempty"`
	Streams           []StreamResult `json:"streams"`
}

// OutputInfo records where the sync wrote.
type OutputInfo struct {
	Format    string `json:"format"`
	Directory string `json:"directory,omitempty"`
	StateFile string `json:"state_file,omitempty"`
}

// StreamResult is the per-stream entry in the summary.
type StreamResult struct {
	Stream        string `json:"stream"`
	Status        string `json:"status"` // SUCCESS | FAILED
	RecordsSynced int    `json:"records_synced"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// NewLog builds a LOG message.
func NewLog(level, message string) *Message {
	return &Message{Type: TypeLog, Log: &Log{Level: level, Message: message}}
}

// NewRecord builds a RECORD message stamped with the current time.
func NewRecord(stream string, data map[string]any) *Message {
	return &Message{Type: TypeRecord, Record: &Record{
		Stream:    stream,
		Data:      data,
		EmittedAt: time.Now().UTC().UnixMilli(),
	}}
}

// NewStreamState builds a per-stream STATE message.
func NewStreamState(stream string, data map[string]any) *Message {
	return &Message{Type: TypeState, State: &State{Stream: stream, Data: data}}
}

// NewGlobalState builds a global STATE message.
func NewGlobalState(data map[string]any) *Message {
	return &Message{Type: TypeState, State: &State{Data: data}}
}
