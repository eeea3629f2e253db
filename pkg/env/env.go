package env

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-derived defaults for the CLI and server
// front-ends. The engine itself never reads the environment; cloud sink
// credentials pass through untouched to the sink collaborators.
type Config struct {
	// Server
	ServerPort    int
	ConnectorsDir string

	// Logging
	LogLevel string
}

// Load reads environment variables, seeding them from workDir/.env when the
// file exists.
func Load(workDir string) (*Config, error) {
	envFile := filepath.Join(workDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	}

	port, err := strconv.Atoi(getEnvOrDefault("RESTLAKE_PORT", "8080"))
	if err != nil {
		port = 8080
	}

	return &Config{
		ServerPort:    port,
		ConnectorsDir: getEnvOrDefault("RESTLAKE_CONNECTORS_DIR", "connectors"),
		LogLevel:      getEnvOrDefault("RESTLAKE_LOG_LEVEL", "info"),
	}, nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
