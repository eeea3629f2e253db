// Package partition produces the partition sequence for a stream run.
package partition

import (
	"fmt"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/extract"
)

// Partition is one disjoint slice of a stream's work. Values are exposed to
// templates as `partition.*` and, for datetime windows, merged into request
// params under the configured start/end parameter names.
type Partition struct {
	ID     string
	Values map[string]any
}

// Router enumerates the partitions of a stream.
type Router interface {
	Partitions() ([]Partition, error)
}

// Single is the degenerate router for unpartitioned streams.
type Single struct{}

// Partitions returns one partition with empty values.
func (Single) Partitions() ([]Partition, error) {
	return []Partition{{ID: "", Values: map[string]any{}}}, nil
}

// List yields one partition per configured value.
type List struct {
	Values []string
	Field  string
}

// Partitions implements Router.
func (r *List) Partitions() ([]Partition, error) {
	out := make([]Partition, 0, len(r.Values))
	for _, v := range r.Values {
		out = append(out, Partition{ID: v, Values: map[string]any{r.Field: v}})
	}
	return out, nil
}

// Parent yields one partition per distinct parent key value, reading parent
// records from the buffer the orchestrator materialized for the parent stream.
type Parent struct {
	Records        []map[string]any
	ParentKey      string
	PartitionField string
}

// Partitions implements Router. Repeated key values are deduplicated, first
// occurrence wins; records without the key are skipped.
func (r *Parent) Partitions() ([]Partition, error) {
	seen := map[string]bool{}
	var out []Partition
	for _, rec := range r.Records {
		v, ok := extract.FieldValue(rec, r.ParentKey)
		if !ok {
			continue
		}
		key, ok := extract.Stringify(v)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Partition{ID: key, Values: map[string]any{r.PartitionField: key}})
	}
	return out, nil
}

type asyncJobRouter struct{}

// Partitions yields the single job partition; the stream runner drives the
// create/poll/download machine for it.
func (asyncJobRouter) Partitions() ([]Partition, error) {
	return []Partition{{ID: "job", Values: map[string]any{}}}, nil
}

// New builds the router for a stream. Parent records must already be
// materialized by the orchestrator; async_job streams get the single "job"
// partition here and the stream runner drives the job machine for it.
func New(spec connector.PartitionSpec, parentRecords []map[string]any) (Router, error) {
	switch spec.Type {
	case connector.PartitionList:
		return &List{Values: spec.Values, Field: spec.PartitionField}, nil
	case connector.PartitionDatetime:
		return newDatetime(spec)
	case connector.PartitionParentStream:
		return &Parent{
			Records:        parentRecords,
			ParentKey:      spec.ParentKey,
			PartitionField: spec.PartitionField,
		}, nil
	case connector.PartitionAsyncJob:
		// One partition per enclosing partition; top-level only here.
		return asyncJobRouter{}, nil
	case connector.PartitionNone, "":
		return Single{}, nil
	default:
		return nil, fmt.Errorf("unknown partition type: %s", spec.Type)
	}
}
