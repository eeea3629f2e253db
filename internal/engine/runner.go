package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/decode"
	"github.com/restlake/restlake/internal/extract"
	"github.com/restlake/restlake/internal/httpx"
	"github.com/restlake/restlake/internal/paginate"
	"github.com/restlake/restlake/internal/partition"
	"github.com/restlake/restlake/internal/protocol"
	"github.com/restlake/restlake/internal/template"
)

// errRecordBudget stops a stream once its max-records budget is spent.
var errRecordBudget = errors.New("record budget reached")

// streamRunner executes one stream: enumerate partitions, page through each,
// emit records, track cursors, checkpoint.
type streamRunner struct {
	engine *Engine
	stream *connector.StreamSpec

	// emit is false for parents materialized only for their children.
	emit bool
	// buffer records for child partition routing.
	buffer bool
	// limiter caps emitted records for this stream; 0 means unlimited.
	limiter int

	mu       sync.Mutex
	emitted  int
	buffered []map[string]any
}

func (r *streamRunner) run(ctx context.Context) error {
	router, err := r.router()
	if err != nil {
		return err
	}
	parts, err := router.Partitions()
	if err != nil {
		return err
	}

	partitioned := !r.stream.Partition.IsZero()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(r.engine.opts.PartitionConcurrency))

	for _, part := range parts {
		if partitioned && r.engine.store.PartitionCompleted(r.stream.Name, part.ID) {
			r.engine.logf(protocol.LevelDebug, "Skipping completed partition: %s", part.ID)
			continue
		}
		part := part
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			err := r.runPartition(gctx, part, partitioned)
			if err == nil || errors.Is(err, errRecordBudget) {
				return err
			}
			switch r.stream.ErrorPolicy {
			case connector.ErrorPolicySkip:
				r.engine.logf(protocol.LevelError, "Skipping partition %s of %s: %v", part.ID, r.stream.Name, err)
				return nil
			default:
				return err
			}
		})
	}

	err = g.Wait()
	if errors.Is(err, errRecordBudget) {
		err = nil
	}
	if err != nil {
		return err
	}

	if r.buffer {
		r.engine.parents[r.stream.Name] = r.buffered
	}
	return nil
}

func (r *streamRunner) router() (partition.Router, error) {
	spec := r.stream.Partition
	if spec.Type == connector.PartitionParentStream {
		records, ok := r.engine.parents[spec.ParentStream]
		if !ok {
			return nil, connector.Errorf("stream %s: parent stream %s did not run in this sync", r.stream.Name, spec.ParentStream)
		}
		return partition.New(spec, records)
	}
	return partition.New(spec, nil)
}

// runPartition pages through one partition and records its max cursor.
func (r *streamRunner) runPartition(ctx context.Context, part partition.Partition, partitioned bool) error {
	priorCursor := r.engine.store.Cursor(r.stream.Name)
	tmplCtx := r.engine.baseCtx.
		WithPartition(part.Values).
		WithState(map[string]any{"cursor": priorCursor})

	var partitionCursor string
	observe := func(records []map[string]any) {
		if r.stream.CursorField == "" {
			return
		}
		format := "string"
		if r.stream.Incremental != nil {
			format = r.stream.Incremental.CursorFormat
		}
		for _, rec := range records {
			if v, ok := extract.FieldValue(rec, r.stream.CursorField); ok {
				if s, ok := extract.Stringify(v); ok {
					partitionCursor = maxCursor(partitionCursor, s, format)
				}
			}
		}
	}

	// Per-page STATE carries the maximum cursor observed so far in the
	// partition; merging keeps the stream cursor monotonic.
	pageState := func() {
		r.mu.Lock()
		if partitionCursor != "" {
			format := "string"
			if r.stream.Incremental != nil {
				format = r.stream.Incremental.CursorFormat
			}
			prior := r.engine.store.Cursor(r.stream.Name)
			r.engine.store.SetCursor(r.stream.Name, maxCursor(prior, partitionCursor, format))
		}
		r.mu.Unlock()
		r.emitStreamState()
	}

	var pageErr error
	if r.stream.Partition.Type == connector.PartitionAsyncJob {
		pageErr = r.runAsyncJob(ctx, tmplCtx, observe)
	} else {
		pageErr = r.paginate(ctx, part, tmplCtx, observe, pageState)
	}
	if pageErr != nil && !errors.Is(pageErr, errRecordBudget) {
		return pageErr
	}

	// A partition cut short by the record budget is not completed; it will be
	// revisited on the next run.
	r.finishPartition(part, partitionCursor, partitioned && pageErr == nil)
	return pageErr
}

// paginate runs the request loop for one partition.
func (r *streamRunner) paginate(ctx context.Context, part partition.Partition, tmplCtx *template.Context, observe func([]map[string]any), pageState func()) error {
	pager := paginate.New(r.stream.Pagination)
	pagerParams := pager.InitialParams()
	overrideURL := ""
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := r.buildRequest(part, tmplCtx, pagerParams, overrideURL, first)
		if err != nil {
			return err
		}

		resp, err := r.engine.client.Do(ctx, req)
		if err != nil {
			return err
		}

		decoded, err := decode.Decode(r.stream.Decoder, resp.Body)
		if err != nil {
			return err
		}

		records := r.recordsFrom(decoded)
		observe(records)
		if err := r.emitRecords(records); err != nil {
			return err
		}

		if r.engine.opts.StatePerPage {
			pageState()
		}

		next := pager.Advance(decoded, resp.Header, len(records))
		if next.Done {
			return nil
		}
		pagerParams = next.Params
		overrideURL = next.URL
		first = false
	}
}

// buildRequest assembles one page request. When the paginator dictates a
// fully-formed URL it is used exactly as received and templates are not
// re-expanded.
func (r *streamRunner) buildRequest(part partition.Partition, tmplCtx *template.Context, pagerParams map[string]string, overrideURL string, first bool) (*httpx.Request, error) {
	headers, err := r.headers(tmplCtx)
	if err != nil {
		return nil, err
	}

	if overrideURL != "" {
		return &httpx.Request{Method: r.stream.Method, URL: overrideURL, Headers: headers}, nil
	}

	path, err := template.Expand(r.stream.Path, tmplCtx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	defaults, err := template.ExpandMap(r.engine.def.Params, tmplCtx)
	if err != nil {
		return nil, err
	}
	for k, v := range defaults {
		query.Set(k, v)
	}
	streamParams, err := template.ExpandMap(r.stream.Params, tmplCtx)
	if err != nil {
		return nil, err
	}
	for k, v := range streamParams {
		query.Set(k, v)
	}

	// The incremental cursor param shapes only the first request of a
	// partition; the paginator governs subsequent pages.
	if first {
		if inc := r.stream.Incremental; inc != nil && inc.CursorParam != "" {
			if prior := r.engine.store.Cursor(r.stream.Name); prior != "" {
				query.Set(inc.CursorParam, effectiveCursor(prior, inc.CursorFormat, inc.LookbackSeconds))
			}
		}
	}

	// Datetime windows feed their bounds into the request params.
	if r.stream.Partition.Type == connector.PartitionDatetime {
		spec := r.stream.Partition
		if v, ok := extract.Stringify(part.Values[spec.StartParam]); ok {
			query.Set(spec.StartParam, v)
		}
		if v, ok := extract.Stringify(part.Values[spec.EndParam]); ok {
			query.Set(spec.EndParam, v)
		}
	}

	for k, v := range pagerParams {
		query.Set(k, v)
	}

	req := &httpx.Request{
		Method:  r.stream.Method,
		URL:     r.engine.baseURL + path,
		Query:   query,
		Headers: headers,
	}

	if body := r.stream.Body; body != nil && body.Content != nil {
		content, err := template.ExpandValue(normalizeYAML(body.Content), tmplCtx)
		if err != nil {
			return nil, err
		}
		if body.Type == "form" {
			form := url.Values{}
			if m, ok := content.(map[string]any); ok {
				for k, v := range m {
					if s, ok := extract.Stringify(v); ok {
						form.Set(k, s)
					}
				}
			}
			req.FormBody = form
		} else {
			req.JSONBody = content
		}
	}

	return req, nil
}

func (r *streamRunner) headers(tmplCtx *template.Context) (map[string]string, error) {
	headers := map[string]string{}
	base, err := template.ExpandMap(r.engine.def.Headers, tmplCtx)
	if err != nil {
		return nil, err
	}
	for k, v := range base {
		headers[k] = v
	}
	own, err := template.ExpandMap(r.stream.Headers, tmplCtx)
	if err != nil {
		return nil, err
	}
	for k, v := range own {
		headers[k] = v
	}
	return headers, nil
}

// recordsFrom selects records from a decoded body via the stream record path.
func (r *streamRunner) recordsFrom(decoded any) []map[string]any {
	var raw []any
	if r.stream.RecordPath != "" {
		raw = extract.Records(decoded, r.stream.RecordPath)
	} else if arr, ok := decoded.([]any); ok {
		raw = arr
	} else if decoded != nil {
		raw = []any{decoded}
	}

	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		} else {
			out = append(out, map[string]any{"value": item})
		}
	}
	return out
}

func (r *streamRunner) emitRecords(records []map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if r.emit && r.limiter > 0 && r.emitted >= r.limiter {
			return errRecordBudget
		}
		if r.buffer {
			if len(r.buffered) >= r.engine.opts.ParentBufferLimit {
				return connector.Errorf("stream %s: parent buffer limit exceeded (%d records)", r.stream.Name, r.engine.opts.ParentBufferLimit)
			}
			r.buffered = append(r.buffered, rec)
		}
		if r.emit {
			r.engine.emit(protocol.NewRecord(r.stream.Name, rec))
		}
		r.emitted++
	}
	return nil
}

// finishPartition merges the partition's max cursor into the stream cursor
// (monotonic under the declared ordering), marks completion, and emits a
// per-stream STATE covering everything emitted so far.
func (r *streamRunner) finishPartition(part partition.Partition, partitionCursor string, completed bool) {
	format := "string"
	if r.stream.Incremental != nil {
		format = r.stream.Incremental.CursorFormat
	}

	r.mu.Lock()
	r.engine.store.Touch(r.stream.Name)
	if partitionCursor != "" {
		prior := r.engine.store.Cursor(r.stream.Name)
		r.engine.store.SetCursor(r.stream.Name, maxCursor(prior, partitionCursor, format))
		if completed {
			r.engine.store.SetPartitionCursor(r.stream.Name, part.ID, partitionCursor)
		}
	}
	if completed {
		r.engine.store.MarkPartitionCompleted(r.stream.Name, part.ID)
	}
	r.mu.Unlock()

	r.emitStreamState()
}

func (r *streamRunner) emitStreamState() {
	snap := r.engine.store.Snapshot()
	ss := snap.Stream(r.stream.Name)
	data := map[string]any{}
	if ss != nil {
		data["cursor"] = nil
		if ss.Cursor != "" {
			data["cursor"] = ss.Cursor
		}
		if len(ss.Partitions) > 0 {
			parts := map[string]any{}
			for id, p := range ss.Partitions {
				entry := map[string]any{"completed": p.Completed}
				if p.Cursor != "" {
					entry["cursor"] = p.Cursor
				}
				parts[id] = entry
			}
			data["partitions"] = parts
		}
	} else {
		data["cursor"] = nil
	}
	r.engine.emit(protocol.NewStreamState(r.stream.Name, data))
}

// normalizeYAML converts yaml.v3 decoded values (map[any]any keys) into
// JSON-compatible maps.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
