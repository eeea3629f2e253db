// Package server exposes the engine over HTTP. It mirrors the stdout
// protocol inside JSON response bodies.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/engine"
	"github.com/restlake/restlake/internal/output"
	"github.com/restlake/restlake/internal/protocol"
	"github.com/restlake/restlake/internal/state"
)

// Config tunes the HTTP surface.
type Config struct {
	ConnectorsDir string
	Log           *zap.Logger
}

// Server serves connectors from a directory of YAML definitions.
type Server struct {
	cfg Config
	log *zap.Logger
}

// New builds a server.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Server{cfg: cfg, log: cfg.Log}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/connectors", s.handleListConnectors).Methods(http.MethodGet)
	r.HandleFunc("/connectors/{name}/streams", s.handleConnectorStreams).Methods(http.MethodGet)
	r.HandleFunc("/streams", s.handleStreams).Methods(http.MethodPost)
	r.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	r.HandleFunc("/discover", s.handleDiscover).Methods(http.MethodPost)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	return r
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiResponse{Success: false, Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveConnector maps a connector name (or relative YAML path) onto a file
// inside the connectors directory.
func (s *Server) resolveConnector(name string) (*connector.Definition, error) {
	if name == "" {
		return nil, connector.Errorf("connector is required")
	}
	candidate := filepath.Join(s.cfg.ConnectorsDir, filepath.Base(name))
	if !strings.HasSuffix(candidate, ".yaml") && !strings.HasSuffix(candidate, ".yml") {
		if _, err := os.Stat(candidate + ".yaml"); err == nil {
			candidate += ".yaml"
		} else {
			candidate += ".yml"
		}
	}
	return connector.Load(candidate)
}

func (s *Server) handleListConnectors(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.cfg.ConnectorsDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read connectors dir: %w", err))
		return
	}
	names := []string{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml"))
		}
	}
	writeSuccess(w, map[string]any{"connectors": names})
}

func (s *Server) handleConnectorStreams(w http.ResponseWriter, r *http.Request) {
	def, err := s.resolveConnector(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	names := make([]string, 0, len(def.Streams))
	for i := range def.Streams {
		names = append(names, def.Streams[i].Name)
	}
	writeSuccess(w, map[string]any{"connector": def.Name, "streams": names})
}

type connectorRequest struct {
	Connector string         `json:"connector"`
	Config    map[string]any `json:"config"`
	Sample    int            `json:"sample"`
}

func (s *Server) decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}

func (s *Server) buildEngine(req connectorRequest, sink output.Sink, store *state.Store, opts engine.Options) (*engine.Engine, error) {
	def, err := s.resolveConnector(req.Connector)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = state.NewStore(nil)
	}
	if sink == nil {
		sink = output.NewCollector()
	}
	return engine.New(def, req.Config, store, sink, s.log, opts)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	def, err := s.resolveConnector(req.Connector)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	names := make([]string, 0, len(def.Streams))
	for i := range def.Streams {
		names = append(names, def.Streams[i].Name)
	}
	writeSuccess(w, map[string]any{"type": "STREAMS", "connector": def.Name, "streams": names})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	eng, err := s.buildEngine(req, nil, nil, engine.Options{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status := eng.Check(r.Context())
	writeSuccess(w, map[string]any{"type": protocol.TypeConnectionStatus, "connectionStatus": status})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	eng, err := s.buildEngine(req, nil, nil, engine.Options{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	catalog := eng.Discover(r.Context(), req.Sample)
	writeSuccess(w, map[string]any{"type": protocol.TypeCatalog, "catalog": catalog})
}

type syncRequest struct {
	Connector  string         `json:"connector"`
	Config     map[string]any `json:"config"`
	Streams    []string       `json:"streams"`
	Format     string         `json:"format"`
	Output     string         `json:"output"`
	State      map[string]any `json:"state"`
	MaxRecords int            `json:"max_records"`
	// CursorFields overrides the cursor field per stream.
	CursorFields map[string]string `json:"cursor_fields"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	format := req.Format
	if format == "" {
		format = "json"
	}

	var store *state.Store
	if req.State != nil {
		raw, _ := json.Marshal(req.State)
		var err error
		store, err = state.FromJSON(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		store = state.NewStore(nil)
	}

	collector := output.NewCollector()
	var sink output.Sink = collector
	collectRecords := format == "json" && req.Output == ""
	if req.Output != "" {
		dirSink, err := output.NewDirSink(req.Output, collector)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sink = dirSink
	}

	def, err := s.resolveConnector(req.Connector)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for name, field := range req.CursorFields {
		if stream := def.Stream(name); stream != nil {
			stream.CursorField = field
		}
	}

	eng, err := engine.New(def, req.Config, store, sink, s.log, engine.Options{
		Streams:    req.Streams,
		MaxRecords: req.MaxRecords,
		Format:     format,
		OutputDir:  req.Output,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, _ := eng.Run(r.Context())
	sink.Close()

	result := map[string]any{
		"status":             summary.Status,
		"sync_id":            summary.SyncID,
		"connector":          summary.Connector,
		"total_records":      summary.TotalRecords,
		"total_streams":      summary.TotalStreams,
		"successful_streams": summary.SuccessfulStreams,
		"failed_streams":     summary.FailedStreams,
		"duration_ms":        summary.DurationMs,
		"streams":            summary.Streams,
		"state":              store.Snapshot().AsValue(),
	}
	if collectRecords {
		result["records"] = collector.Records()
	}

	writeSuccess(w, map[string]any{"type": "SYNC_RESULT", "result": result})
}
