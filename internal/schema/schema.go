// Package schema infers a nullable JSON schema from observed records by
// union-merging their shapes. The result feeds columnar sinks and the
// discover catalog.
package schema

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Property describes one field of an inferred schema.
type Property struct {
	Types      []string // sorted union of observed JSON types
	Format     string
	Items      *Property
	Properties map[string]*Property
}

// Schema is an inferred object schema.
type Schema struct {
	Properties map[string]*Property
	Required   []string
}

// Inferrer accumulates records into a schema.
type Inferrer struct {
	schema      *Schema
	recordCount int
	fieldCounts map[string]int
	maxDepth    int
}

// NewInferrer returns an inferrer with a nesting depth cap of 10.
func NewInferrer() *Inferrer {
	return &Inferrer{
		schema:      &Schema{Properties: map[string]*Property{}},
		fieldCounts: map[string]int{},
		maxDepth:    10,
	}
}

// Observe merges one record into the schema.
func (inf *Inferrer) Observe(record map[string]any) {
	inf.recordCount++
	for key, val := range record {
		inf.fieldCounts[key]++
		prop := inf.infer(val, 0)
		if existing, ok := inf.schema.Properties[key]; ok {
			inf.schema.Properties[key] = merge(existing, prop)
		} else {
			if inf.recordCount > 1 {
				// Field absent from earlier records.
				prop = nullable(prop)
			}
			inf.schema.Properties[key] = prop
		}
	}
	// Fields missing from this record become nullable.
	for key, prop := range inf.schema.Properties {
		if _, ok := record[key]; !ok {
			inf.schema.Properties[key] = nullable(prop)
		}
	}
}

// Schema finalizes and returns the accumulated schema.
func (inf *Inferrer) Schema() *Schema {
	var required []string
	for key, count := range inf.fieldCounts {
		if count == inf.recordCount && !hasType(inf.schema.Properties[key], "null") {
			required = append(required, key)
		}
	}
	sort.Strings(required)
	inf.schema.Required = required
	return inf.schema
}

// InferRecords is a convenience over Observe for a whole batch.
func InferRecords(records []map[string]any) *Schema {
	inf := NewInferrer()
	for _, rec := range records {
		inf.Observe(rec)
	}
	return inf.Schema()
}

func (inf *Inferrer) infer(v any, depth int) *Property {
	if depth >= inf.maxDepth {
		return &Property{Types: []string{"object"}}
	}
	switch t := v.(type) {
	case nil:
		return &Property{Types: []string{"null"}}
	case bool:
		return &Property{Types: []string{"boolean"}}
	case float64:
		if t == float64(int64(t)) {
			return &Property{Types: []string{"integer"}}
		}
		return &Property{Types: []string{"number"}}
	case int, int64:
		return &Property{Types: []string{"integer"}}
	case string:
		return &Property{Types: []string{"string"}, Format: stringFormat(t)}
	case []any:
		items := &Property{Types: []string{"object"}}
		for i, item := range t {
			p := inf.infer(item, depth+1)
			if i == 0 {
				items = p
			} else {
				items = merge(items, p)
			}
		}
		return &Property{Types: []string{"array"}, Items: items}
	case map[string]any:
		props := map[string]*Property{}
		for key, val := range t {
			props[key] = inf.infer(val, depth+1)
		}
		return &Property{Types: []string{"object"}, Properties: props}
	default:
		return &Property{Types: []string{"string"}}
	}
}

func merge(a, b *Property) *Property {
	out := &Property{Types: unionTypes(a.Types, b.Types)}

	if a.Format == b.Format {
		out.Format = a.Format
	}

	switch {
	case a.Items != nil && b.Items != nil:
		out.Items = merge(a.Items, b.Items)
	case a.Items != nil:
		out.Items = a.Items
	case b.Items != nil:
		out.Items = b.Items
	}

	if a.Properties != nil || b.Properties != nil {
		out.Properties = map[string]*Property{}
		for key, p := range a.Properties {
			out.Properties[key] = p
		}
		for key, p := range b.Properties {
			if existing, ok := out.Properties[key]; ok {
				out.Properties[key] = merge(existing, p)
			} else {
				out.Properties[key] = nullable(p)
			}
		}
		for key, p := range a.Properties {
			if _, ok := b.Properties[key]; !ok {
				out.Properties[key] = nullable(p)
			}
		}
	}

	return out
}

func nullable(p *Property) *Property {
	out := *p
	out.Types = unionTypes(p.Types, []string{"null"})
	return &out
}

func unionTypes(a, b []string) []string {
	set := map[string]bool{}
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		set[t] = true
	}
	// integer widens to number when both observed
	if set["integer"] && set["number"] {
		delete(set, "integer")
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func hasType(p *Property, typ string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.Types {
		if t == typ {
			return true
		}
	}
	return false
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func stringFormat(s string) string {
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return "date-time"
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return "date"
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if _, err := url.ParseRequestURI(s); err == nil {
			return "uri"
		}
	}
	if emailRe.MatchString(s) {
		return "email"
	}
	if _, err := uuid.Parse(s); err == nil && len(s) == 36 {
		return "uuid"
	}
	return ""
}

// AsValue renders the schema as a JSON-schema document.
func (s *Schema) AsValue() map[string]any {
	props := map[string]any{}
	for key, p := range s.Properties {
		props[key] = p.asValue()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (p *Property) asValue() map[string]any {
	out := map[string]any{}
	if len(p.Types) == 1 {
		out["type"] = p.Types[0]
	} else {
		out["type"] = p.Types
	}
	if p.Format != "" {
		out["format"] = p.Format
	}
	if p.Items != nil {
		out["items"] = p.Items.asValue()
	}
	if p.Properties != nil {
		props := map[string]any{}
		for key, child := range p.Properties {
			props[key] = child.asValue()
		}
		out["properties"] = props
	}
	return out
}
