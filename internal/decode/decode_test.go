package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restlake/restlake/internal/connector"
)

func TestDecodeJSON(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderJSON}
	v, err := Decode(spec, []byte(`{"data": [{"id": 1}]}`))
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Len(t, m["data"], 1)
}

func TestDecodeJSONMalformed(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderJSON}
	_, err := Decode(spec, []byte(`{"data": `))
	require.Error(t, err)
	var derr *Error
	assert.ErrorAs(t, err, &derr)
}

func TestDecodeJSONL(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderJSONL}
	body := "{\"id\": 1}\n\n{\"id\": 2}\n"
	v, err := Decode(spec, []byte(body))
	require.NoError(t, err)
	records := v.([]any)
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[1].(map[string]any)["id"])
}

func TestDecodeJSONLMalformedLineFailsBatch(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderJSONL}
	_, err := Decode(spec, []byte("{\"id\": 1}\nnot json\n"))
	assert.Error(t, err)
}

func TestDecodeCSV(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderCSV}
	body := "id,name,count\n1,alice,10\n2,bob,20\n"
	v, err := Decode(spec, []byte(body))
	require.NoError(t, err)
	records := v.([]any)
	require.Len(t, records, 2)

	first := records[0].(map[string]any)
	// Values stay strings: no coercion.
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "10", first["count"])
}

func TestDecodeCSVMissingHeader(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderCSV}
	_, err := Decode(spec, []byte(""))
	assert.Error(t, err)
}

func TestDecodeCSVCustomDelimiter(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderCSV, Delimiter: ";"}
	v, err := Decode(spec, []byte("a;b\n1;2\n"))
	require.NoError(t, err)
	records := v.([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0].(map[string]any)["b"])
}

func TestDecodeXML(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderXML, RecordElement: "item"}
	body := `<response><items><item sku="A1"><name>Widget</name></item><item sku="B2"><name>Gadget</name></item></items></response>`
	v, err := Decode(spec, []byte(body))
	require.NoError(t, err)
	records := v.([]any)
	require.Len(t, records, 2)

	first := records[0].(map[string]any)
	assert.Equal(t, "A1", first["@sku"])
	assert.Equal(t, "Widget", first["name"])
}

func TestDecodeXMLMalformed(t *testing.T) {
	spec := connector.DecoderSpec{Type: connector.DecoderXML, RecordElement: "item"}
	_, err := Decode(spec, []byte(`<a><b>`))
	assert.Error(t, err)
}
