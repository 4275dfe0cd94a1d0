package jsonutil

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNDJSON(t *testing.T) {
	rows := []map[string]interface{}{
		{"name": "leo", "favorite_color": "red"},
		{"name": "matthew", "favorite_color": "blue"},
	}

	data, err := EncodeNDJSON(rows, false)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"name":"leo"`)
	assert.Contains(t, lines[1], `"favorite_color":"blue"`)
}

func TestEncodeNDJSON_StampDate(t *testing.T) {
	rows := []map[string]interface{}{{"name": "leo"}}

	data, err := EncodeNDJSON(rows, true)
	require.NoError(t, err)

	decoded, err := DecodeNDJSON(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), decoded[0][UploadDateField])

	// Input rows must not be mutated.
	_, mutated := rows[0][UploadDateField]
	assert.False(t, mutated)
}

func TestEncodeNDJSON_Empty(t *testing.T) {
	data, err := EncodeNDJSON(nil, false)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDecodeNDJSON(t *testing.T) {
	input := []byte(`{"a":1}
{"b":"two"}

{"c":true}
`)
	rows, err := DecodeNDJSON(input)
	require.NoError(t, err)
	require.Len(t, rows, 3, "blank lines are skipped")
	assert.Equal(t, float64(1), rows[0]["a"])
	assert.Equal(t, "two", rows[1]["b"])
	assert.Equal(t, true, rows[2]["c"])
}

func TestDecodeNDJSON_Invalid(t *testing.T) {
	_, err := DecodeNDJSON([]byte("{not json}\n"))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": "x", "nested": map[string]interface{}{"k": "v"}},
		{"id": "y", "count": float64(3)},
	}

	data, err := EncodeNDJSON(rows, false)
	require.NoError(t, err)
	back, err := DecodeNDJSON(data)
	require.NoError(t, err)
	assert.Equal(t, rows, back)
}

func TestMarshalNoHTMLEscapeInNDJSON(t *testing.T) {
	rows := []map[string]interface{}{{"url": "https://example.com/a?b=1&c=2"}}
	data, err := EncodeNDJSON(rows, false)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("b=1&c=2")), "ampersands must not be escaped")
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("scratch")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Zero(t, again.Len(), "pooled buffers are reset")
	PutBuffer(again)
}
