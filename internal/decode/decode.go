// Package decode transforms raw response bytes into decoded values: a single
// JSON value for the json decoder, a record sequence for jsonl, csv and xml.
package decode

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/clbanning/mxj/v2"

	"github.com/restlake/restlake/internal/connector"
)

// Error reports a malformed response body.
type Error struct {
	Format  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s decode: %s", e.Format, e.Message)
}

func init() {
	// Response XML is converted with attributes under an "@" prefix and
	// element text under "#text".
	mxj.SetAttrPrefix("@")
}

// Decode parses body according to spec. The json decoder returns the parsed
// value as-is (record selection happens in the extractor); the other decoders
// return a []any of records.
func Decode(spec connector.DecoderSpec, body []byte) (any, error) {
	switch spec.Type {
	case connector.DecoderJSON, "":
		return decodeJSON(body)
	case connector.DecoderJSONL:
		return decodeJSONL(body)
	case connector.DecoderCSV:
		return decodeCSV(spec, body)
	case connector.DecoderXML:
		return decodeXML(spec, body)
	default:
		return nil, &Error{Format: spec.Type, Message: "unknown decoder type"}
	}
}

func decodeJSON(body []byte) (any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &Error{Format: "json", Message: err.Error()}
	}
	return v, nil
}

func decodeJSONL(body []byte) (any, error) {
	records := []any{}
	for i, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return nil, &Error{Format: "jsonl", Message: fmt.Sprintf("line %d: %v", i+1, err)}
		}
		records = append(records, v)
	}
	return records, nil
}

func decodeCSV(spec connector.DecoderSpec, body []byte) (any, error) {
	r := csv.NewReader(bytes.NewReader(body))
	if spec.Delimiter != "" {
		r.Comma = rune(spec.Delimiter[0])
	}
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, &Error{Format: "csv", Message: "missing header row"}
	}
	if err != nil {
		return nil, &Error{Format: "csv", Message: err.Error()}
	}

	records := []any{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &Error{Format: "csv", Message: err.Error()}
		}
		// Values stay strings; no numeric or boolean coercion.
		record := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeXML(spec connector.DecoderSpec, body []byte) (any, error) {
	m, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, &Error{Format: "xml", Message: err.Error()}
	}

	nodes, err := m.ValuesForKey(spec.RecordElement)
	if err != nil {
		return nil, &Error{Format: "xml", Message: err.Error()}
	}

	records := []any{}
	for _, node := range nodes {
		switch t := node.(type) {
		case map[string]any:
			records = append(records, t)
		default:
			records = append(records, map[string]any{"#text": t})
		}
	}
	return records, nil
}
