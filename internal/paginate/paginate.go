// Package paginate implements the per-partition pagination state machines.
// One paginator instance drives one partition run: InitialParams shapes the
// first request, Advance is called exactly once per successful response.
package paginate

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/extract"
)

// NextPage describes how to build the next request, or that pagination is done.
type NextPage struct {
	// Params are query parameters to set on the next request.
	Params map[string]string
	// URL, when non-empty, is used verbatim for the next request; base URL
	// and path templates are not re-expanded.
	URL  string
	Done bool
}

// Paginator is the pagination state machine for a single partition.
type Paginator interface {
	// InitialParams returns query params for the first request.
	InitialParams() map[string]string
	// Advance consumes a successful response and produces the next step.
	Advance(body any, header http.Header, records int) NextPage
}

// New builds a paginator from the stream's pagination spec.
func New(spec connector.PaginationSpec) Paginator {
	switch spec.Type {
	case connector.PaginationCursor:
		return &cursorPaginator{spec: spec}
	case connector.PaginationOffset:
		return &offsetPaginator{spec: spec}
	case connector.PaginationPageNumber:
		return &pageNumberPaginator{spec: spec, page: spec.StartPage}
	case connector.PaginationLinkHeader:
		return &linkHeaderPaginator{rel: spec.Rel}
	case connector.PaginationNextURL:
		return &nextURLPaginator{path: spec.Path}
	default:
		return &nonePaginator{}
	}
}

type counters struct {
	fetched int
	page    int
}

func stop(spec *connector.StopConditionSpec, body any, records int, c counters) bool {
	if spec == nil || spec.Type == "" || spec.Type == "empty_page" {
		return records == 0
	}
	switch spec.Type {
	case "field":
		got := extract.Scalar(body, spec.Path)
		if got == nil {
			return false
		}
		return scalarEqual(got, spec.Value)
	case "total_count":
		if total, ok := scalarInt(extract.Scalar(body, spec.Path)); ok {
			return c.fetched >= total
		}
		return false
	case "total_pages":
		if total, ok := scalarInt(extract.Scalar(body, spec.Path)); ok {
			return c.page >= total
		}
		return false
	}
	return false
}

func scalarEqual(a, b any) bool {
	if x, ok := scalarInt(a); ok {
		if y, ok := scalarInt(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

func scalarInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// nonePaginator marks done after the first page.
type nonePaginator struct{}

func (*nonePaginator) InitialParams() map[string]string { return nil }

func (*nonePaginator) Advance(any, http.Header, int) NextPage {
	return NextPage{Done: true}
}

// cursorPaginator reads the next cursor token from the response body.
type cursorPaginator struct {
	spec connector.PaginationSpec
	c    counters
}

func (p *cursorPaginator) InitialParams() map[string]string { return nil }

func (p *cursorPaginator) Advance(body any, _ http.Header, records int) NextPage {
	p.c.fetched += records
	if stop(p.spec.StopCondition, body, records, p.c) {
		return NextPage{Done: true}
	}
	cursor, ok := extract.ScalarString(body, p.spec.CursorPath)
	if !ok || cursor == "" {
		return NextPage{Done: true}
	}
	return NextPage{Params: map[string]string{p.spec.CursorParam: cursor}}
}

// offsetPaginator advances a numeric offset by the records received.
type offsetPaginator struct {
	spec   connector.PaginationSpec
	offset int
	c      counters
}

func (p *offsetPaginator) params() map[string]string {
	return map[string]string{
		p.spec.OffsetParam: strconv.Itoa(p.offset),
		p.spec.LimitParam:  strconv.Itoa(p.spec.LimitValue),
	}
}

func (p *offsetPaginator) InitialParams() map[string]string { return p.params() }

func (p *offsetPaginator) Advance(body any, _ http.Header, records int) NextPage {
	p.c.fetched += records
	if stop(p.spec.StopCondition, body, records, p.c) {
		return NextPage{Done: true}
	}
	// A short page means the source ran out of records.
	if records < p.spec.LimitValue {
		return NextPage{Done: true}
	}
	p.offset += records
	return NextPage{Params: p.params()}
}

// pageNumberPaginator advances a page counter.
type pageNumberPaginator struct {
	spec connector.PaginationSpec
	page int
	c    counters
}

func (p *pageNumberPaginator) params() map[string]string {
	params := map[string]string{p.spec.PageParam: strconv.Itoa(p.page)}
	if p.spec.PageSizeParam != "" && p.spec.PageSize > 0 {
		params[p.spec.PageSizeParam] = strconv.Itoa(p.spec.PageSize)
	}
	return params
}

func (p *pageNumberPaginator) InitialParams() map[string]string { return p.params() }

func (p *pageNumberPaginator) Advance(body any, _ http.Header, records int) NextPage {
	p.c.fetched += records
	p.c.page = p.page
	if stop(p.spec.StopCondition, body, records, p.c) {
		return NextPage{Done: true}
	}
	if p.spec.PageSize > 0 && records < p.spec.PageSize {
		return NextPage{Done: true}
	}
	p.page++
	return NextPage{Params: p.params()}
}

// linkHeaderPaginator follows RFC 5988 Link headers.
type linkHeaderPaginator struct {
	rel string
}

func (*linkHeaderPaginator) InitialParams() map[string]string { return nil }

func (p *linkHeaderPaginator) Advance(_ any, header http.Header, _ int) NextPage {
	if next := ParseLinkHeader(header.Get("Link"), p.rel); next != "" {
		return NextPage{URL: next}
	}
	return NextPage{Done: true}
}

// ParseLinkHeader extracts the URL with the given rel from a Link header
// value of the form `<url>; rel="next", <url>; rel="prev"`.
func ParseLinkHeader(header, rel string) string {
	for _, part := range strings.Split(header, ",") {
		var url, partRel string
		for _, seg := range strings.Split(part, ";") {
			seg = strings.TrimSpace(seg)
			if strings.HasPrefix(seg, "<") && strings.HasSuffix(seg, ">") {
				url = seg[1 : len(seg)-1]
			} else if v, ok := strings.CutPrefix(seg, "rel="); ok {
				partRel = strings.Trim(v, `"'`)
			}
		}
		if url != "" && partRel == rel {
			return url
		}
	}
	return ""
}

// nextURLPaginator reads a fully-formed next URL from the response body.
type nextURLPaginator struct {
	path string
}

func (*nextURLPaginator) InitialParams() map[string]string { return nil }

func (p *nextURLPaginator) Advance(body any, _ http.Header, _ int) NextPage {
	if next, ok := extract.ScalarString(body, p.path); ok && next != "" {
		return NextPage{URL: next}
	}
	return NextPage{Done: true}
}
