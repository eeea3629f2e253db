package connector

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a problem with a connector definition or runtime
// configuration. Most surface before any stream I/O happens; an exceeded
// parent buffer limit surfaces while the parent stream is being read.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// Errorf builds a ConfigError.
func Errorf(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// Load reads and validates a connector definition from a YAML file.
func Load(path string) (*Definition, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, Errorf("connector file not found: %s", path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("error reading connector file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates a connector definition from YAML bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, Errorf("error parsing connector YAML: %v", err)
	}

	def.applyDefaults()
	if err := def.validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Version == "" {
		d.Version = "1.0"
	}
	if d.Auth.Type == "" {
		d.Auth.Type = AuthNone
	}
	d.HTTP.applyDefaults()

	if d.Check != nil {
		if d.Check.Method == "" {
			d.Check.Method = "GET"
		}
		if d.Check.ExpectStatus == 0 {
			d.Check.ExpectStatus = 200
		}
	}

	for i := range d.Streams {
		s := &d.Streams[i]
		if s.Method == "" {
			s.Method = "GET"
		}
		if s.Decoder.Type == "" {
			s.Decoder.Type = DecoderJSON
		}
		if s.ErrorPolicy == "" {
			s.ErrorPolicy = ErrorPolicyRetry
		}
		if s.Pagination.Type == "" {
			s.Pagination.Type = PaginationNone
		}
		if s.Pagination.Type == PaginationPageNumber && s.Pagination.StartPage == 0 {
			s.Pagination.StartPage = 1
		}
		if s.Pagination.Type == PaginationLinkHeader && s.Pagination.Rel == "" {
			s.Pagination.Rel = "next"
		}
		if s.Partition.Type == "" {
			s.Partition.Type = PartitionNone
		}
		if job := s.Partition.AsyncJob; job != nil {
			if job.Create.Method == "" {
				job.Create.Method = "POST"
			}
			if job.Create.JobIDPath == "" {
				job.Create.JobIDPath = "id"
			}
			if job.Poll.IntervalSeconds == 0 {
				job.Poll.IntervalSeconds = 10
			}
			if job.Poll.MaxAttempts == 0 {
				job.Poll.MaxAttempts = 60
			}
			if job.Poll.StatusPath == "" {
				job.Poll.StatusPath = "state"
			}
		}
		if inc := s.Incremental; inc != nil && inc.CursorFormat == "" {
			inc.CursorFormat = "string"
		}
	}
}

func (h *HTTPSpec) applyDefaults() {
	if h.TimeoutSeconds == 0 {
		h.TimeoutSeconds = 30
	}
	if h.ConnectTimeoutSeconds == 0 {
		h.ConnectTimeoutSeconds = 10
	}
	if h.MaxRetries == 0 {
		h.MaxRetries = 5
	}
	if len(h.RetryStatuses) == 0 {
		h.RetryStatuses = []int{429, 500, 502, 503, 504}
	}
	if h.Backoff.Type == "" {
		h.Backoff.Type = "exponential"
	}
	if h.Backoff.InitialMs == 0 {
		h.Backoff.InitialMs = 100
	}
	if h.Backoff.MaxMs == 0 {
		h.Backoff.MaxMs = 60000
	}
	if h.Backoff.Multiplier == 0 {
		h.Backoff.Multiplier = 2.0
	}
	if h.RateLimit.RequestsPerSecond == 0 {
		h.RateLimit.RequestsPerSecond = 10
	}
	if h.RateLimit.RespectHeaders == nil {
		t := true
		h.RateLimit.RespectHeaders = &t
	}
	if h.RateLimit.RemainingHeader == "" {
		h.RateLimit.RemainingHeader = "X-RateLimit-Remaining"
	}
	if h.RateLimit.ResetHeader == "" {
		h.RateLimit.ResetHeader = "X-RateLimit-Reset"
	}
}
