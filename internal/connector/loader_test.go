package connector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
name: test
base_url: "https://api.example.com"
streams:
  - name: customers
    path: /v1/customers
    record_path: "$.data[*]"
    primary_key: [id]
`

func TestParseMinimal(t *testing.T) {
	def, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", def.Name)
	assert.Equal(t, "1.0", def.Version)
	assert.Equal(t, "https://api.example.com", def.BaseURL)
	require.Len(t, def.Streams, 1)

	s := def.Streams[0]
	assert.Equal(t, "GET", s.Method)
	assert.Equal(t, DecoderJSON, s.Decoder.Type)
	assert.Equal(t, ErrorPolicyRetry, s.ErrorPolicy)
	assert.Equal(t, PaginationNone, s.Pagination.Type)
	assert.Equal(t, PartitionNone, s.Partition.Type)
}

func TestHTTPDefaults(t *testing.T) {
	def, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 30, def.HTTP.TimeoutSeconds)
	assert.Equal(t, 10, def.HTTP.ConnectTimeoutSeconds)
	assert.Equal(t, 5, def.HTTP.MaxRetries)
	assert.Equal(t, []int{429, 500, 502, 503, 504}, def.HTTP.RetryStatuses)
	assert.Equal(t, int64(100), def.HTTP.Backoff.InitialMs)
	assert.Equal(t, int64(60000), def.HTTP.Backoff.MaxMs)
	assert.Equal(t, 2.0, def.HTTP.Backoff.Multiplier)
	assert.Equal(t, 10.0, def.HTTP.RateLimit.RequestsPerSecond)
	assert.Equal(t, "X-RateLimit-Remaining", def.HTTP.RateLimit.RemainingHeader)
}

func TestParseAuthAndPagination(t *testing.T) {
	raw := `
name: stripe
base_url: "https://api.stripe.com"
auth:
  type: api_key
  location: header
  header_name: Authorization
  prefix: "Bearer "
  value: "{{ config.api_key }}"
streams:
  - name: customers
    path: /v1/customers
    record_path: "$.data[*]"
    pagination:
      type: cursor
      cursor_param: starting_after
      cursor_path: "$.data[-1:].id"
      stop_condition:
        type: field
        path: "$.has_more"
        value: false
`
	def, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, AuthAPIKey, def.Auth.Type)
	assert.Equal(t, "Bearer ", def.Auth.Prefix)
	assert.Equal(t, "{{ config.api_key }}", def.Auth.Value)

	p := def.Streams[0].Pagination
	assert.Equal(t, PaginationCursor, p.Type)
	assert.Equal(t, "starting_after", p.CursorParam)
	require.NotNil(t, p.StopCondition)
	assert.Equal(t, "field", p.StopCondition.Type)
	assert.Equal(t, false, p.StopCondition.Value)
}

func TestValidateRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte(`base_url: "https://x"`))
	require.Error(t, err)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidateRejectsDuplicateStreams(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: a
    path: /a
  - name: a
    path: /b
`
	_, err := Parse([]byte(raw))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownParent(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: child
    path: "/p/{{ partition.pid }}"
    partition:
      type: parent_stream
      parent_stream: nope
      parent_key: id
      partition_field: pid
`
	_, err := Parse([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent stream not found")
}

func TestValidateRejectsParentCycle(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: a
    path: "/a/{{ partition.pb }}"
    partition:
      type: parent_stream
      parent_stream: b
      parent_key: id
      partition_field: pb
  - name: b
    path: "/b/{{ partition.pa }}"
    partition:
      type: parent_stream
      parent_stream: a
      parent_key: id
      partition_field: pa
`
	_, err := Parse([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsBadRecordPath(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: s
    path: /s
    record_path: "$.data[*"
`
	_, err := Parse([]byte(raw))
	assert.Error(t, err)
}

func TestValidateRejectsBadCursorFormat(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: s
    path: /s
    cursor_field: updated
    incremental:
      cursor_param: since
      cursor_format: epoch
`
	_, err := Parse([]byte(raw))
	assert.Error(t, err)
}

func TestParseAsyncJobDefaults(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: export
    decoder:
      type: json
    partition:
      type: async_job
      async_job:
        create:
          path: /jobs
          body: {object: Account}
          job_id_path: id
        poll:
          path: "/jobs/{{ job_id }}"
          status_path: state
          completed_condition:
            values: [JobComplete]
          failed_condition:
            values: [Failed, Aborted]
        download:
          path: "/jobs/{{ job_id }}/results"
`
	def, err := Parse([]byte(raw))
	require.NoError(t, err)

	job := def.Streams[0].Partition.AsyncJob
	require.NotNil(t, job)
	assert.Equal(t, "POST", job.Create.Method)
	assert.Equal(t, 10, job.Poll.IntervalSeconds)
	assert.Equal(t, 60, job.Poll.MaxAttempts)
}

func TestSortedStreamsParentFirst(t *testing.T) {
	raw := `
name: t
base_url: "https://x"
streams:
  - name: commits
    path: "/repos/{{ partition.repo_id }}/commits"
    partition:
      type: parent_stream
      parent_stream: repositories
      parent_key: id
      partition_field: repo_id
  - name: repositories
    path: /repos
`
	def, err := Parse([]byte(raw))
	require.NoError(t, err)

	ordered, explicit, err := def.SortedStreams([]string{"commits"})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "repositories", ordered[0].Name)
	assert.Equal(t, "commits", ordered[1].Name)
	assert.True(t, explicit["commits"])
	assert.False(t, explicit["repositories"])
}

func TestSortedStreamsUnknownSelection(t *testing.T) {
	def, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	_, _, err = def.SortedStreams([]string{"nope"})
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", def.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
