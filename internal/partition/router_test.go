package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restlake/restlake/internal/connector"
)

func TestSingleRouter(t *testing.T) {
	router, err := New(connector.PartitionSpec{Type: connector.PartitionNone}, nil)
	require.NoError(t, err)
	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Empty(t, parts[0].ID)
}

func TestListRouter(t *testing.T) {
	router, err := New(connector.PartitionSpec{
		Type:           connector.PartitionList,
		Values:         []string{"us", "eu", "apac"},
		PartitionField: "region",
	}, nil)
	require.NoError(t, err)

	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "us", parts[0].ID)
	assert.Equal(t, "eu", parts[1].Values["region"])
}

func TestParentRouter(t *testing.T) {
	records := []map[string]any{
		{"id": float64(42), "name": "a"},
		{"id": float64(43), "name": "b"},
		{"id": float64(42), "name": "dup"},
		{"name": "no-key"},
	}
	router, err := New(connector.PartitionSpec{
		Type:           connector.PartitionParentStream,
		ParentStream:   "repositories",
		ParentKey:      "id",
		PartitionField: "repo_id",
	}, records)
	require.NoError(t, err)

	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "42", parts[0].ID)
	assert.Equal(t, "42", parts[0].Values["repo_id"])
	assert.Equal(t, "43", parts[1].ID)
}

func TestParentRouterNestedKey(t *testing.T) {
	records := []map[string]any{
		{"data": map[string]any{"id": "x"}},
	}
	router := &Parent{Records: records, ParentKey: "data.id", PartitionField: "pid"}
	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "x", parts[0].ID)
}

func TestDatetimeRouterWindows(t *testing.T) {
	router, err := New(connector.PartitionSpec{
		Type:       connector.PartitionDatetime,
		Start:      "2024-01-01",
		End:        "2024-01-04",
		Step:       "P1D",
		Format:     "date",
		StartParam: "since",
		EndParam:   "until",
	}, nil)
	require.NoError(t, err)

	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, "0_2024-01-01", parts[0].ID)
	assert.Equal(t, "2024-01-01", parts[0].Values["since"])
	assert.Equal(t, "2024-01-02", parts[0].Values["until"])

	// Closed-open and non-overlapping: each window starts where the previous ended.
	for i := 1; i < len(parts); i++ {
		assert.Equal(t, parts[i-1].Values["until"], parts[i].Values["since"])
	}
	assert.Equal(t, "2024-01-04", parts[2].Values["until"])
}

func TestDatetimeRouterTruncatesFinalWindow(t *testing.T) {
	router, err := New(connector.PartitionSpec{
		Type:       connector.PartitionDatetime,
		Start:      "2024-01-01T00:00:00Z",
		End:        "2024-01-01T10:00:00Z",
		Step:       "PT4H",
		StartParam: "from",
		EndParam:   "to",
	}, nil)
	require.NoError(t, err)

	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "2024-01-01T08:00:00Z", parts[2].Values["from"])
	assert.Equal(t, "2024-01-01T10:00:00Z", parts[2].Values["to"])
}

func TestDatetimeRouterEndDefaultsToNow(t *testing.T) {
	start := time.Now().UTC().Add(-30 * time.Minute).Format(time.RFC3339)
	router, err := New(connector.PartitionSpec{
		Type:       connector.PartitionDatetime,
		Start:      start,
		Step:       "PT1H",
		StartParam: "from",
		EndParam:   "to",
	}, nil)
	require.NoError(t, err)

	parts, err := router.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 1)
}

func TestDatetimeRouterBadStep(t *testing.T) {
	_, err := New(connector.PartitionSpec{
		Type:       connector.PartitionDatetime,
		Start:      "2024-01-01",
		Step:       "one-day",
		StartParam: "from",
		EndParam:   "to",
	}, nil)
	assert.Error(t, err)
}
