package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConnector(t *testing.T, dir, name, baseURL string) {
	t.Helper()
	raw := fmt.Sprintf(`
name: %s
base_url: "%s"
http:
  max_retries: 1
  retry_backoff:
    initial_ms: 1
  rate_limit:
    requests_per_second: 10000
check:
  path: /ping
streams:
  - name: customers
    path: /v1/customers
    record_path: "$.data[*]"
    primary_key: [id]
`, name, baseURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(raw), 0o644))
}

func newTestServer(t *testing.T, upstream string) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	writeConnector(t, dir, "demo", upstream)
	srv := New(Config{ConnectorsDir: dir})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "https://api.x")
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListConnectors(t *testing.T) {
	ts := newTestServer(t, "https://api.x")
	resp, err := http.Get(ts.URL + "/connectors")
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.True(t, decoded["success"].(bool))
	data := decoded["data"].(map[string]any)
	assert.Contains(t, data["connectors"], "demo")
}

func TestConnectorStreams(t *testing.T) {
	ts := newTestServer(t, "https://api.x")
	resp, err := http.Get(ts.URL + "/connectors/demo/streams")
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	data := decoded["data"].(map[string]any)
	assert.Equal(t, []any{"customers"}, data["streams"])
}

func TestCheckEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	ts := newTestServer(t, upstream.URL)
	status, decoded := postJSON(t, ts.URL+"/check", map[string]any{"connector": "demo"})
	assert.Equal(t, http.StatusOK, status)

	data := decoded["data"].(map[string]any)
	cs := data["connectionStatus"].(map[string]any)
	assert.Equal(t, "SUCCEEDED", cs["status"])
}

func TestSyncEndpointReturnsRecords(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"a"},{"id":"b"}]}`)
	}))
	defer upstream.Close()

	ts := newTestServer(t, upstream.URL)
	status, decoded := postJSON(t, ts.URL+"/sync", map[string]any{
		"connector": "demo",
		"format":    "json",
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, decoded["success"].(bool))

	data := decoded["data"].(map[string]any)
	assert.Equal(t, "SYNC_RESULT", data["type"])

	result := data["result"].(map[string]any)
	assert.Equal(t, "SUCCEEDED", result["status"])
	assert.Equal(t, float64(2), result["total_records"])

	records := result["records"].([]any)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].(map[string]any)["id"])

	// state mirrors the protocol
	state := result["state"].(map[string]any)
	_, ok := state["streams"].(map[string]any)["customers"]
	assert.True(t, ok)
}

func TestSyncEndpointWithPriorState(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer upstream.Close()

	ts := newTestServer(t, upstream.URL)
	status, decoded := postJSON(t, ts.URL+"/sync", map[string]any{
		"connector": "demo",
		"state":     map[string]any{"streams": map[string]any{"customers": map[string]any{"cursor": "42"}}},
	})
	require.Equal(t, http.StatusOK, status)

	result := decoded["data"].(map[string]any)["result"].(map[string]any)
	cursor := result["state"].(map[string]any)["streams"].(map[string]any)["customers"].(map[string]any)["cursor"]
	assert.Equal(t, "42", cursor)
}

func TestSyncUnknownConnector(t *testing.T) {
	ts := newTestServer(t, "https://api.x")
	status, decoded := postJSON(t, ts.URL+"/sync", map[string]any{"connector": "nope"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, decoded["success"].(bool))
}

func TestDiscoverEndpoint(t *testing.T) {
	ts := newTestServer(t, "https://api.x")
	status, decoded := postJSON(t, ts.URL+"/discover", map[string]any{"connector": "demo"})
	require.Equal(t, http.StatusOK, status)

	data := decoded["data"].(map[string]any)
	catalog := data["catalog"].(map[string]any)
	streams := catalog["streams"].([]any)
	require.Len(t, streams, 1)
	assert.Equal(t, "customers", streams[0].(map[string]any)["name"])
}
