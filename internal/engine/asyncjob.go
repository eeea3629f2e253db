package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/restlake/restlake/internal/decode"
	"github.com/restlake/restlake/internal/extract"
	"github.com/restlake/restlake/internal/httpx"
	"github.com/restlake/restlake/internal/protocol"
	"github.com/restlake/restlake/internal/template"
)

// AsyncJobError is a failed or timed-out asynchronous extraction job.
type AsyncJobError struct {
	JobID   string
	Status  string
	Timeout bool
}

func (e *AsyncJobError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("async job %s: poll budget exhausted", e.JobID)
	}
	return fmt.Sprintf("async job %s: terminal status %q", e.JobID, e.Status)
}

// runAsyncJob drives the create -> poll -> download machine for one
// partition and feeds the downloaded response through the stream's decoder.
func (r *streamRunner) runAsyncJob(ctx context.Context, tmplCtx *template.Context, observe func([]map[string]any)) error {
	job := r.stream.Partition.AsyncJob

	// CREATE
	createBody, err := template.ExpandValue(normalizeYAML(job.Create.Body), tmplCtx)
	if err != nil {
		return err
	}
	createPath, err := template.Expand(job.Create.Path, tmplCtx)
	if err != nil {
		return err
	}
	headers, err := r.headers(tmplCtx)
	if err != nil {
		return err
	}
	for k, v := range job.Create.Headers {
		headers[k] = v
	}

	resp, err := r.engine.client.Do(ctx, &httpx.Request{
		Method:   job.Create.Method,
		URL:      r.engine.baseURL + createPath,
		Headers:  headers,
		JSONBody: createBody,
	})
	if err != nil {
		return fmt.Errorf("async job create failed: %w", err)
	}
	created, err := decode.Decode(r.stream.Decoder, resp.Body)
	if err != nil {
		return fmt.Errorf("async job create response: %w", err)
	}
	jobID, ok := extract.ScalarString(created, job.Create.JobIDPath)
	if !ok || jobID == "" {
		return fmt.Errorf("async job create: no job id at path %s", job.Create.JobIDPath)
	}
	tmplCtx = tmplCtx.WithJobID(jobID)
	r.engine.logf(protocol.LevelDebug, "Created async job %s for stream %s", jobID, r.stream.Name)

	// POLL
	pollPath, err := template.Expand(job.Poll.Path, tmplCtx)
	if err != nil {
		return err
	}
	interval := time.Duration(job.Poll.IntervalSeconds) * time.Second

	var final any
	completed := false
	for attempt := 0; attempt < job.Poll.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := r.engine.client.Do(ctx, &httpx.Request{
			Method:  "GET",
			URL:     r.engine.baseURL + pollPath,
			Headers: headers,
		})
		if err != nil {
			return fmt.Errorf("async job poll failed: %w", err)
		}
		body, err := decode.Decode(r.stream.Decoder, resp.Body)
		if err != nil {
			return fmt.Errorf("async job poll response: %w", err)
		}

		status, _ := extract.ScalarString(body, job.Poll.StatusPath)
		if lo.Contains(job.Poll.Completed.Values, status) {
			final = body
			completed = true
			break
		}
		if job.Poll.Failed != nil && lo.Contains(job.Poll.Failed.Values, status) {
			return &AsyncJobError{JobID: jobID, Status: status}
		}
	}
	if !completed {
		return &AsyncJobError{JobID: jobID, Timeout: true}
	}

	// DOWNLOAD: a url_path in the final poll response wins; the URL is
	// fetched verbatim, bypassing template expansion.
	var downloadURL string
	if job.Download.URLPath != "" {
		if u, ok := extract.ScalarString(final, job.Download.URLPath); ok && u != "" {
			downloadURL = u
		}
	}
	if downloadURL == "" {
		downloadPath, err := template.Expand(job.Download.Path, tmplCtx)
		if err != nil {
			return err
		}
		downloadURL = r.engine.baseURL + downloadPath
	}

	resp, err = r.engine.client.Do(ctx, &httpx.Request{
		Method:  "GET",
		URL:     downloadURL,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("async job download failed: %w", err)
	}

	decoded, err := decode.Decode(r.stream.Decoder, resp.Body)
	if err != nil {
		return err
	}
	records := r.recordsFrom(decoded)
	observe(records)
	return r.emitRecords(records)
}
