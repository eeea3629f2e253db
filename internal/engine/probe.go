package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/decode"
	"github.com/restlake/restlake/internal/httpx"
	"github.com/restlake/restlake/internal/protocol"
	"github.com/restlake/restlake/internal/schema"
	"github.com/restlake/restlake/internal/template"
)

// Check executes the connection probe: the configured check endpoint, else
// the first stream's path, else the base URL root.
func (e *Engine) Check(ctx context.Context) *protocol.ConnectionStatus {
	var (
		path         string
		params       map[string]string
		expectStatus = 200
	)
	switch {
	case e.def.Check != nil:
		path = e.def.Check.Path
		params = e.def.Check.Params
		expectStatus = e.def.Check.ExpectStatus
	case len(e.def.Streams) > 0:
		path = e.def.Streams[0].Path
	default:
		path = "/"
	}

	expanded, err := template.Expand(path, e.baseCtx)
	if err != nil {
		return &protocol.ConnectionStatus{Status: "FAILED", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	query := url.Values{}
	expandedParams, err := template.ExpandMap(params, e.baseCtx)
	if err != nil {
		return &protocol.ConnectionStatus{Status: "FAILED", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	for k, v := range expandedParams {
		query.Set(k, v)
	}

	headers, err := template.ExpandMap(e.def.Headers, e.baseCtx)
	if err != nil {
		return &protocol.ConnectionStatus{Status: "FAILED", Message: fmt.Sprintf("Connection failed: %v", err)}
	}

	resp, err := e.client.Do(ctx, &httpx.Request{
		Method:  "GET",
		URL:     e.baseURL + expanded,
		Query:   query,
		Headers: headers,
	})
	if err != nil {
		return &protocol.ConnectionStatus{Status: "FAILED", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	if resp.Status != expectStatus {
		return &protocol.ConnectionStatus{
			Status:  "FAILED",
			Message: fmt.Sprintf("Connection check returned status %d, expected %d", resp.Status, expectStatus),
		}
	}
	return &protocol.ConnectionStatus{Status: "SUCCEEDED", Message: "Connection successful"}
}

// StreamNames returns the connector's stream names in declaration order.
func (e *Engine) StreamNames() []string {
	names := make([]string, 0, len(e.def.Streams))
	for i := range e.def.Streams {
		names = append(names, e.def.Streams[i].Name)
	}
	return names
}

// Discover builds the catalog. With sampleCount > 0, non-partitioned streams
// are sampled and their schemas inferred from observed records.
func (e *Engine) Discover(ctx context.Context, sampleCount int) *protocol.Catalog {
	inferred := map[string]any{}
	if sampleCount > 0 {
		inferred = e.sampleSchemas(ctx, sampleCount)
	}

	catalog := &protocol.Catalog{}
	for i := range e.def.Streams {
		s := &e.def.Streams[i]

		jsonSchema, ok := inferred[s.Name]
		if !ok {
			jsonSchema = map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": true,
			}
		}

		entry := protocol.CatalogStream{
			Name:                s.Name,
			JSONSchema:          jsonSchema,
			SupportedSyncModes:  []string{"full_refresh", "incremental"},
			SourceDefinedCursor: s.CursorField != "",
		}
		if s.CursorField != "" {
			entry.DefaultCursorField = []string{s.CursorField}
		}
		for _, k := range s.PrimaryKey {
			entry.SourceDefinedPrimaryKey = append(entry.SourceDefinedPrimaryKey, []string{k})
		}
		catalog.Streams = append(catalog.Streams, entry)
	}
	return catalog
}

func (e *Engine) sampleSchemas(ctx context.Context, sampleCount int) map[string]any {
	out := map[string]any{}

	for i := range e.def.Streams {
		s := &e.def.Streams[i]
		if !s.Partition.IsZero() || dependsOnPartition(s) {
			e.logf(protocol.LevelDebug, "Skipping %s (requires partition data)", s.Name)
			continue
		}

		path, err := template.Expand(s.Path, e.baseCtx)
		if err != nil {
			e.logf(protocol.LevelWarn, "Failed to sample %s: %v", s.Name, err)
			continue
		}
		query := url.Values{}
		params, err := template.ExpandMap(s.Params, e.baseCtx)
		if err != nil {
			e.logf(protocol.LevelWarn, "Failed to sample %s: %v", s.Name, err)
			continue
		}
		for k, v := range params {
			query.Set(k, v)
		}
		headers, _ := template.ExpandMap(e.def.Headers, e.baseCtx)

		resp, err := e.client.Do(ctx, &httpx.Request{
			Method:  "GET",
			URL:     e.baseURL + path,
			Query:   query,
			Headers: headers,
		})
		if err != nil {
			e.logf(protocol.LevelWarn, "Failed to sample %s: %v", s.Name, err)
			continue
		}

		decoded, err := decode.Decode(s.Decoder, resp.Body)
		if err != nil {
			e.logf(protocol.LevelWarn, "Failed to decode sample for %s: %v", s.Name, err)
			continue
		}

		runner := &streamRunner{engine: e, stream: s}
		records := runner.recordsFrom(decoded)
		if len(records) > sampleCount {
			records = records[:sampleCount]
		}
		if len(records) == 0 {
			continue
		}

		out[s.Name] = schema.InferRecords(records).AsValue()
		e.logf(protocol.LevelDebug, "Inferred schema for %s from %d records", s.Name, len(records))
	}

	return out
}

func dependsOnPartition(s *connector.StreamSpec) bool {
	if strings.Contains(s.Path, "{{ partition.") || strings.Contains(s.Path, "{{partition.") {
		return true
	}
	for _, v := range s.Params {
		if strings.Contains(v, "partition.") && template.Has(v) {
			return true
		}
	}
	return false
}

// SpecMessage renders the connector's config property specification.
func SpecMessage(def *connector.Definition) *protocol.Message {
	props := map[string]any{}
	required := []string{}
	for name, p := range def.Spec {
		prop := map[string]any{"type": p.Type}
		if p.Title != "" {
			prop["title"] = p.Title
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Secret {
			prop["secret"] = true
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	return &protocol.Message{
		Type: protocol.TypeSpec,
		Spec: map[string]any{
			"connectionSpecification": map[string]any{
				"type":       "object",
				"title":      def.Name,
				"properties": props,
				"required":   required,
			},
		},
	}
}
