package partition

import (
	"fmt"
	"time"

	"github.com/sosodev/duration"

	"github.com/restlake/restlake/internal/connector"
)

// Datetime slices [start, end) into closed-open, non-overlapping windows of a
// fixed ISO-8601 step.
type Datetime struct {
	Start      time.Time
	End        time.Time
	Step       time.Duration
	Format     string
	StartParam string
	EndParam   string
}

func newDatetime(spec connector.PartitionSpec) (*Datetime, error) {
	start, err := parseDatetime(spec.Start)
	if err != nil {
		return nil, fmt.Errorf("invalid partition start: %w", err)
	}

	end := time.Now().UTC()
	if spec.End != "" && spec.End != "now" {
		end, err = parseDatetime(spec.End)
		if err != nil {
			return nil, fmt.Errorf("invalid partition end: %w", err)
		}
	}

	step, err := duration.Parse(spec.Step)
	if err != nil {
		return nil, fmt.Errorf("invalid partition step %q: %w", spec.Step, err)
	}
	d := step.ToTimeDuration()
	if d <= 0 {
		return nil, fmt.Errorf("partition step must be positive: %s", spec.Step)
	}

	return &Datetime{
		Start:      start,
		End:        end,
		Step:       d,
		Format:     layoutFor(spec.Format),
		StartParam: spec.StartParam,
		EndParam:   spec.EndParam,
	}, nil
}

// Partitions implements Router. The final window is truncated at End.
func (r *Datetime) Partitions() ([]Partition, error) {
	var out []Partition
	num := 0
	for cur := r.Start; cur.Before(r.End); cur = cur.Add(r.Step) {
		windowEnd := cur.Add(r.Step)
		if windowEnd.After(r.End) {
			windowEnd = r.End
		}
		startStr := cur.Format(r.Format)
		endStr := windowEnd.Format(r.Format)
		out = append(out, Partition{
			ID: fmt.Sprintf("%d_%s", num, startStr),
			Values: map[string]any{
				r.StartParam:      startStr,
				r.EndParam:        endStr,
				"partition_start": startStr,
				"partition_end":   endStr,
			},
		})
		num++
	}
	return out, nil
}

// layoutFor maps the common aliases onto Go reference layouts; anything else
// is assumed to already be a layout string.
func layoutFor(format string) string {
	switch format {
	case "", "iso8601", "rfc3339":
		return time.RFC3339
	case "date":
		return "2006-01-02"
	default:
		return format
	}
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime: %s", s)
}
