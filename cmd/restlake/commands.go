package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/engine"
	"github.com/restlake/restlake/internal/output"
	"github.com/restlake/restlake/internal/protocol"
	"github.com/restlake/restlake/internal/server"
	"github.com/restlake/restlake/internal/state"
	"github.com/restlake/restlake/pkg/env"
)

type readFlags struct {
	streams              string
	output               string
	maxRecords           int
	statePerPage         bool
	partitionConcurrency int
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loadConnector(flags *globalFlags) (*connector.Definition, error) {
	if flags.connector == "" {
		return nil, connector.Errorf("connector file not specified (use -c flag)")
	}
	return connector.Load(flags.connector)
}

func loadConfig(flags *globalFlags) (map[string]any, error) {
	if flags.configJSON != "" {
		var cfg map[string]any
		if err := json.Unmarshal([]byte(flags.configJSON), &cfg); err != nil {
			return nil, connector.Errorf("invalid config JSON: %v", err)
		}
		return cfg, nil
	}
	if flags.configPath != "" {
		raw, err := os.ReadFile(flags.configPath)
		if err != nil {
			return nil, connector.Errorf("failed to read config file: %v", err)
		}
		var cfg map[string]any
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, connector.Errorf("invalid config JSON: %v", err)
		}
		return cfg, nil
	}
	return map[string]any{}, nil
}

func loadState(flags *globalFlags) (*state.Store, error) {
	if flags.stateJSON != "" {
		return state.FromJSON([]byte(flags.stateJSON))
	}
	if flags.statePath != "" {
		return state.FromFile(flags.statePath)
	}
	return state.NewStore(nil), nil
}

func stdoutSink(format string) (output.Sink, error) {
	switch format {
	case "json", "":
		return output.NewJSONSink(os.Stdout), nil
	case "pretty":
		return output.NewPrettySink(os.Stdout), nil
	case "parquet":
		return nil, connector.Errorf("the parquet sink is provided by a sink collaborator and is not bundled in this build")
	default:
		return nil, connector.Errorf("unknown output format: %s", format)
	}
}

func buildEngine(flags *globalFlags, sink output.Sink, store *state.Store, opts engine.Options) (*engine.Engine, error) {
	def, err := loadConnector(flags)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return engine.New(def, cfg, store, sink, newLogger(flags.verbose), opts)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCheck(flags *globalFlags) error {
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	eng, err := buildEngine(flags, sink, state.NewStore(nil), engine.Options{})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	status := eng.Check(ctx)
	return sink.Emit(&protocol.Message{Type: protocol.TypeConnectionStatus, ConnectionStatus: status})
}

func runStreams(flags *globalFlags) error {
	def, err := loadConnector(flags)
	if err != nil {
		return err
	}
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(def.Streams))
	for i := range def.Streams {
		names = append(names, def.Streams[i].Name)
	}
	return sink.Emit(&protocol.Message{Type: protocol.TypeStreams, Streams: names})
}

func runDiscover(flags *globalFlags, sample int) error {
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	eng, err := buildEngine(flags, sink, state.NewStore(nil), engine.Options{})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	catalog := eng.Discover(ctx, sample)
	return sink.Emit(&protocol.Message{Type: protocol.TypeCatalog, Catalog: catalog})
}

func runSpec(flags *globalFlags) error {
	def, err := loadConnector(flags)
	if err != nil {
		return err
	}
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	return sink.Emit(engine.SpecMessage(def))
}

func runValidate(flags *globalFlags) error {
	def, err := loadConnector(flags)
	if err != nil {
		return err
	}
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	return sink.Emit(protocol.NewLog(protocol.LevelInfo, fmt.Sprintf(
		"Connector '%s' v%s is valid with %d streams", def.Name, def.Version, len(def.Streams))))
}

func runList(flags *globalFlags, connectorsDir string) error {
	envCfg, err := env.Load(".")
	if err != nil {
		return err
	}
	if connectorsDir == "" {
		connectorsDir = envCfg.ConnectorsDir
	}
	entries, err := os.ReadDir(connectorsDir)
	if err != nil {
		return connector.Errorf("failed to read connectors directory %s: %v", connectorsDir, err)
	}
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml"))
		}
	}
	return sink.Emit(&protocol.Message{Type: protocol.TypeStreams, Streams: names})
}

func runRead(flags *globalFlags, rf *readFlags) error {
	sink, err := stdoutSink(flags.format)
	if err != nil {
		return err
	}
	if rf.output != "" {
		sink, err = output.NewDirSink(rf.output, sink)
		if err != nil {
			return err
		}
	}

	store, err := loadState(flags)
	if err != nil {
		return err
	}

	var streams []string
	if rf.streams != "" {
		streams = strings.Split(rf.streams, ",")
	}

	eng, err := buildEngine(flags, sink, store, engine.Options{
		Streams:              streams,
		MaxRecords:           rf.maxRecords,
		StatePerPage:         rf.statePerPage,
		PartitionConcurrency: rf.partitionConcurrency,
		Format:               flags.format,
		OutputDir:            rf.output,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := eng.Run(ctx)
	sink.Close()
	if err != nil {
		return err
	}
	if summary.Status != "SUCCEEDED" {
		os.Exit(1)
	}
	return nil
}

func runServe(flags *globalFlags, port int, connectorsDir string) error {
	envCfg, err := env.Load(".")
	if err != nil {
		return err
	}
	if port == 0 {
		port = envCfg.ServerPort
	}
	if connectorsDir == "" {
		connectorsDir = envCfg.ConnectorsDir
	}

	logger := newLogger(true)
	defer logger.Sync()

	srv := server.New(server.Config{ConnectorsDir: connectorsDir, Log: logger})

	ctx, cancel := signalContext()
	defer cancel()
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
}
