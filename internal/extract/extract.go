// Package extract selects records and scalar probe values from decoded
// response bodies using a restricted JSONPath dialect: root `$`, child
// `.name`, wildcard `[*]`, numeric index `[N]` and last-element slice `[-1:]`.
package extract

import (
	"fmt"
	"strconv"
	"strings"
)

type segmentKind int

const (
	segField segmentKind = iota
	segWildcard
	segIndex
	segLast
)

type segment struct {
	kind  segmentKind
	field string
	index int
}

// ValidatePath checks path syntax without evaluating it. Invalid syntax is a
// configuration problem and is rejected at connector load time.
func ValidatePath(path string) error {
	_, err := parse(path)
	return err
}

func parse(path string) ([]segment, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	var segs []segment
	for len(p) > 0 {
		switch {
		case strings.HasPrefix(p, "["):
			end := strings.Index(p, "]")
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket in path %q", path)
			}
			inner := p[1:end]
			p = strings.TrimPrefix(p[end+1:], ".")
			switch {
			case inner == "*":
				segs = append(segs, segment{kind: segWildcard})
			case inner == "-1:":
				segs = append(segs, segment{kind: segLast})
			default:
				idx, err := strconv.Atoi(inner)
				if err != nil {
					return nil, fmt.Errorf("invalid index %q in path %q", inner, path)
				}
				segs = append(segs, segment{kind: segIndex, index: idx})
			}
		default:
			end := strings.IndexAny(p, ".[")
			var name string
			if end < 0 {
				name, p = p, ""
			} else {
				name = p[:end]
				if p[end] == '.' {
					p = p[end+1:]
				} else {
					p = p[end:]
				}
			}
			if name == "" {
				return nil, fmt.Errorf("empty field name in path %q", path)
			}
			segs = append(segs, segment{kind: segField, field: name})
		}
	}
	return segs, nil
}

func eval(v any, segs []segment) []any {
	current := []any{v}
	for _, seg := range segs {
		var next []any
		for _, c := range current {
			switch seg.kind {
			case segField:
				if m, ok := c.(map[string]any); ok {
					if val, ok := m[seg.field]; ok {
						next = append(next, val)
					}
				}
			case segWildcard:
				if arr, ok := c.([]any); ok {
					next = append(next, arr...)
				}
			case segIndex:
				if arr, ok := c.([]any); ok {
					i := seg.index
					if i < 0 {
						i += len(arr)
					}
					if i >= 0 && i < len(arr) {
						next = append(next, arr[i])
					}
				}
			case segLast:
				if arr, ok := c.([]any); ok && len(arr) > 0 {
					next = append(next, arr[len(arr)-1])
				}
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// Records selects the record sequence at path. A path resolving to an array
// yields its elements; a single object yields a one-element sequence; a miss
// yields an empty sequence, never an error.
func Records(body any, path string) []any {
	segs, err := parse(path)
	if err != nil {
		return nil
	}
	results := eval(body, segs)
	if len(results) == 1 {
		if arr, ok := results[0].([]any); ok {
			return arr
		}
	}
	return results
}

// Scalar resolves a single probe value at path, or nil when the path misses.
func Scalar(body any, path string) any {
	segs, err := parse(path)
	if err != nil {
		return nil
	}
	results := eval(body, segs)
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// ScalarString resolves a probe value and renders it as a string; numbers in
// canonical form, booleans as true/false. Misses and non-scalar values yield
// ("", false).
func ScalarString(body any, path string) (string, bool) {
	v := Scalar(body, path)
	return Stringify(v)
}

// Stringify renders a scalar value for use in URLs and query params.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// FieldValue reads a dotted field path (e.g. "data.created") from a record.
// Unlike Records/Scalar it does not support brackets; it is the shape used by
// primary_key and cursor_field lookups.
func FieldValue(record map[string]any, field string) (any, bool) {
	var current any = record
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
