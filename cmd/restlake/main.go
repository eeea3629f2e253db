package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared across subcommands.
type globalFlags struct {
	connector  string
	configPath string
	configJSON string
	statePath  string
	stateJSON  string
	format     string
	verbose    bool
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "restlake",
		Short: "Declarative REST extraction engine",
		Long:  "restlake executes YAML-defined connectors against REST APIs and emits records and state checkpoints for data-lake destinations",
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.connector, "connector", "c", "", "Connector definition file (YAML)")
	pf.StringVar(&flags.configPath, "config", "", "Runtime configuration file (JSON)")
	pf.StringVar(&flags.configJSON, "config-json", "", "Inline runtime configuration JSON")
	pf.StringVarP(&flags.statePath, "state", "s", "", "State file (JSON)")
	pf.StringVar(&flags.stateJSON, "state-json", "", "Inline state JSON")
	pf.StringVarP(&flags.format, "format", "f", "json", "Output format (json|pretty|parquet)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose diagnostics on stderr")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Test the connection to the API",
		RunE:  func(cmd *cobra.Command, args []string) error { return runCheck(&flags) },
	}

	streamsCmd := &cobra.Command{
		Use:   "streams",
		Short: "List stream names",
		RunE:  func(cmd *cobra.Command, args []string) error { return runStreams(&flags) },
	}

	var sample int
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover available streams and their schemas",
		RunE:  func(cmd *cobra.Command, args []string) error { return runDiscover(&flags, sample) },
	}
	discoverCmd.Flags().IntVar(&sample, "sample", 0, "Sample records per stream for schema inference (0 = static schema)")

	var readFlags readFlags
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read data from streams",
		RunE:  func(cmd *cobra.Command, args []string) error { return runRead(&flags, &readFlags) },
	}
	readCmd.Flags().StringVar(&readFlags.streams, "streams", "", "Streams to sync (comma-separated, empty = all)")
	readCmd.Flags().StringVarP(&readFlags.output, "output", "o", "", "Output directory (local path; cloud URLs require the sink collaborator)")
	readCmd.Flags().IntVar(&readFlags.maxRecords, "max-records", 0, "Maximum records per stream")
	readCmd.Flags().BoolVar(&readFlags.statePerPage, "state-per-page", false, "Emit STATE after every page")
	readCmd.Flags().IntVar(&readFlags.partitionConcurrency, "partition-concurrency", 1, "Concurrent partitions per stream")

	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Show the connector configuration specification",
		RunE:  func(cmd *cobra.Command, args []string) error { return runSpec(&flags) },
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a connector definition",
		RunE:  func(cmd *cobra.Command, args []string) error { return runValidate(&flags) },
	}

	var connectorsDir string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List connectors in the connectors directory",
		RunE:  func(cmd *cobra.Command, args []string) error { return runList(&flags, connectorsDir) },
	}
	listCmd.Flags().StringVar(&connectorsDir, "connectors-dir", "", "Directory containing connector YAML files")

	var servePort int
	var serveDir string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  func(cmd *cobra.Command, args []string) error { return runServe(&flags, servePort, serveDir) },
	}
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "connectors-dir", "", "Directory containing connector YAML files")

	var initName string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter connector definition",
		RunE:  func(cmd *cobra.Command, args []string) error { return runInit(initName) },
	}
	initCmd.Flags().StringVar(&initName, "name", "", "Name of the connector to generate")
	initCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(checkCmd, streamsCmd, discoverCmd, readCmd, specCmd, validateCmd, listCmd, serveCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
