package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandConfigValues(t *testing.T) {
	ctx := &Context{Config: map[string]any{
		"api_key": "sk_123",
		"nested":  map[string]any{"shop": "acme"},
		"limit":   float64(100),
		"active":  true,
	}}

	out, err := Expand("Bearer {{ config.api_key }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_123", out)

	out, err = Expand("https://{{ config.nested.shop }}.example.com", ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example.com", out)

	out, err = Expand("limit={{ config.limit }}&active={{ config.active }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "limit=100&active=true", out)
}

func TestExpandPartitionAndState(t *testing.T) {
	ctx := &Context{
		Partition: map[string]any{"repo_id": "42"},
		State:     map[string]any{"cursor": "1000"},
	}

	out, err := Expand("/repos/{{ partition.repo_id }}/commits?since={{ state.cursor }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/repos/42/commits?since=1000", out)
}

func TestExpandJobID(t *testing.T) {
	ctx := (&Context{}).WithJobID("J1")
	out, err := Expand("/jobs/{{ job_id }}/status", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/jobs/J1/status", out)

	_, err = Expand("/jobs/{{ job_id }}", &Context{})
	assert.Error(t, err)
}

func TestExpandNowAndToday(t *testing.T) {
	anchor := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	ctx := &Context{Now: anchor}

	out, err := Expand("{{ now }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15T10:30:00Z", out)

	out, err = Expand("{{ today }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", out)
}

func TestExpandUnresolvedFails(t *testing.T) {
	_, err := Expand("{{ config.missing }}", &Context{Config: map[string]any{}})
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"config.missing"}, terr.Paths)
}

func TestExpandCollectsAllMissing(t *testing.T) {
	_, err := Expand("{{ config.a }}/{{ partition.b }}", &Context{})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Len(t, terr.Paths, 2)
}

func TestExpandNoPlaceholders(t *testing.T) {
	out, err := Expand("/v1/customers", &Context{})
	require.NoError(t, err)
	assert.Equal(t, "/v1/customers", out)
}

func TestExpandValue(t *testing.T) {
	ctx := &Context{Config: map[string]any{"q": "all"}}
	in := map[string]any{
		"query": "{{ config.q }}",
		"inner": []any{"{{ config.q }}", float64(1)},
	}
	out, err := ExpandValue(in, ctx)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "all", m["query"])
	assert.Equal(t, "all", m["inner"].([]any)[0])
}

func TestHas(t *testing.T) {
	assert.True(t, Has("{{ config.a }}"))
	assert.False(t, Has("plain"))
}
