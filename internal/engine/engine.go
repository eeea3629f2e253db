// Package engine orchestrates a sync: it drives the selected streams in
// dependency order, owns the shared HTTP executor, authenticator, state
// store and sink, and emits the RECORD/STATE/LOG/SYNC_SUMMARY protocol.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/restlake/restlake/internal/auth"
	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/httpx"
	"github.com/restlake/restlake/internal/output"
	"github.com/restlake/restlake/internal/protocol"
	"github.com/restlake/restlake/internal/state"
	"github.com/restlake/restlake/internal/template"
)

// Options tune a sync run.
type Options struct {
	// Streams selects streams by name; empty selects all.
	Streams []string
	// MaxRecords caps emitted records per stream; 0 means unlimited.
	MaxRecords int
	// StatePerPage emits a per-stream STATE after every page.
	StatePerPage bool
	// PartitionConcurrency bounds concurrent partitions per stream.
	PartitionConcurrency int
	// ParentBufferLimit caps buffered parent records per stream.
	ParentBufferLimit int
	// Format and OutputDir describe the sink for the summary.
	Format    string
	OutputDir string
}

func (o *Options) defaults() {
	if o.PartitionConcurrency <= 0 {
		o.PartitionConcurrency = 1
	}
	if o.ParentBufferLimit <= 0 {
		o.ParentBufferLimit = 100000
	}
	if o.Format == "" {
		o.Format = "json"
	}
}

// Engine runs syncs for one connector definition.
type Engine struct {
	def   *connector.Definition
	cfg   map[string]any
	store *state.Store
	sink  output.Sink
	log   *zap.Logger
	opts  Options

	baseCtx *template.Context
	baseURL string
	client  *httpx.Client
	auth    *auth.Authenticator

	emitMu       sync.Mutex
	totalRecords int

	// parent stream record buffers, populated before children run
	parents map[string][]map[string]any
}

// New builds an engine. The base URL template is expanded against config up
// front; a failure there is a config problem.
func New(def *connector.Definition, cfg map[string]any, store *state.Store, sink output.Sink, logger *zap.Logger, opts Options) (*Engine, error) {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx := &template.Context{Config: cfg}
	baseURL, err := template.Expand(def.BaseURL, baseCtx)
	if err != nil {
		return nil, connector.Errorf("failed to expand base_url: %v", err)
	}

	authenticator, err := auth.New(def.Auth, baseCtx, nil)
	if err != nil {
		return nil, connector.Errorf("failed to build authenticator: %v", err)
	}

	return &Engine{
		def:     def,
		cfg:     cfg,
		store:   store,
		sink:    sink,
		log:     logger,
		opts:    opts,
		baseCtx: baseCtx,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpx.NewClient(def.HTTP, authenticator),
		auth:    authenticator,
		parents: map[string][]map[string]any{},
	}, nil
}

// emit serializes all protocol output and keeps the record count.
func (e *Engine) emit(msg *protocol.Message) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if msg.Type == protocol.TypeRecord {
		e.totalRecords++
	}
	if err := e.sink.Emit(msg); err != nil {
		e.log.Warn("sink emit failed", zap.Error(err))
	}
}

func (e *Engine) logf(level, format string, args ...any) {
	e.emit(protocol.NewLog(level, fmt.Sprintf(format, args...)))
}

// Run executes the sync and returns the terminal summary. The summary is
// always emitted, exactly once, as the final message.
func (e *Engine) Run(ctx context.Context) (*protocol.SyncSummary, error) {
	start := time.Now()
	summary := &protocol.SyncSummary{
		SyncID:    uuid.NewString(),
		Connector: e.def.Name,
		Output: &protocol.OutputInfo{
			Format:    e.opts.Format,
			Directory: e.opts.OutputDir,
			StateFile: e.store.Path(),
		},
	}

	ordered, explicit, err := e.def.SortedStreams(e.opts.Streams)
	if err != nil {
		e.logf(protocol.LevelError, "stream selection failed: %v", err)
		summary.Status = "FAILED"
		summary.DurationMs = time.Since(start).Milliseconds()
		e.emit(protocol.NewGlobalState(e.store.Snapshot().AsValue()))
		e.emit(&protocol.Message{Type: protocol.TypeSyncSummary, Summary: summary})
		return summary, err
	}

	// Streams whose records must be buffered for child partition routing.
	buffered := map[string]bool{}
	for _, s := range ordered {
		if s.Partition.Type == connector.PartitionParentStream {
			buffered[s.Partition.ParentStream] = true
		}
	}

	cancelled := false
	for _, streamSpec := range ordered {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		streamStart := time.Now()
		recordsBefore := e.totalRecords
		e.logf(protocol.LevelInfo, "Starting sync for stream: %s", streamSpec.Name)

		runner := &streamRunner{
			engine:  e,
			stream:  streamSpec,
			emit:    explicit[streamSpec.Name],
			buffer:  buffered[streamSpec.Name],
			limiter: e.opts.MaxRecords,
		}
		runErr := runner.run(ctx)

		result := protocol.StreamResult{
			Stream:        streamSpec.Name,
			Status:        "SUCCESS",
			RecordsSynced: e.totalRecords - recordsBefore,
			DurationMs:    time.Since(streamStart).Milliseconds(),
		}
		if runErr != nil {
			result.Status = "FAILED"
			result.Error = runErr.Error()
			e.logf(protocol.LevelError, "Error syncing stream %s: %v", streamSpec.Name, runErr)
			if ctx.Err() != nil {
				cancelled = true
			}
		} else {
			e.logf(protocol.LevelInfo, "Completed sync for %s: %d records", streamSpec.Name, result.RecordsSynced)
		}
		summary.Streams = append(summary.Streams, result)

		// Full-state checkpoint after every stream, success or failure.
		e.emit(protocol.NewGlobalState(e.store.Snapshot().AsValue()))
		if err := e.store.Checkpoint(); err != nil {
			e.logf(protocol.LevelWarn, "checkpoint failed: %v", err)
		}

		if cancelled {
			break
		}
	}

	summary.TotalRecords = e.totalRecords
	summary.TotalStreams = len(summary.Streams)
	summary.SuccessfulStreams = lo.CountBy(summary.Streams, func(r protocol.StreamResult) bool {
		return r.Status == "SUCCESS"
	})
	summary.FailedStreams = summary.TotalStreams - summary.SuccessfulStreams
	summary.DurationMs = time.Since(start).Milliseconds()

	switch {
	case cancelled, summary.SuccessfulStreams == 0 && summary.FailedStreams > 0:
		summary.Status = "FAILED"
	case summary.FailedStreams == 0:
		summary.Status = "SUCCEEDED"
	default:
		summary.Status = "PARTIAL"
	}

	e.emit(protocol.NewGlobalState(e.store.Snapshot().AsValue()))
	e.emit(&protocol.Message{Type: protocol.TypeSyncSummary, Summary: summary})
	return summary, nil
}
