// Package jsonutil provides JSON serialization for gcpkit backed by
// goccy/go-json, with pooled buffers and a newline-delimited JSON codec.
//
// NDJSON (one JSON object per line) is the bulk-load format BigQuery accepts
// from Cloud Storage; EncodeNDJSON and DecodeNDJSON are the two halves used by
// pkg/gcs and pkg/bq.
package jsonutil

import (
	"bufio"
	"bytes"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
)

// UploadDateField is the column stamped onto each row by EncodeNDJSON when
// date stamping is requested.
const UploadDateField = "upload_date"

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled buffer.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= 1<<20 {
		bufferPool.Put(buf)
	}
}

// Marshal serializes v to JSON.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal deserializes JSON data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// EncodeNDJSON serializes rows as newline-delimited JSON. When stampDate is
// true each row gets an "upload_date" field set to today's ISO date; the input
// maps are not modified.
func EncodeNDJSON(rows []map[string]interface{}, stampDate bool) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	today := time.Now().UTC().Format("2006-01-02")
	for _, row := range rows {
		out := row
		if stampDate {
			out = make(map[string]interface{}, len(row)+1)
			for k, v := range row {
				out[k] = v
			}
			out[UploadDateField] = today
		}
		if err := enc.Encode(out); err != nil {
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeData, "failed to encode NDJSON row")
		}
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// DecodeNDJSON parses newline-delimited JSON into one map per line. Blank
// lines are skipped.
func DecodeNDJSON(data []byte) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row map[string]interface{}
		if err := gojson.Unmarshal(line, &row); err != nil {
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeData, "failed to decode NDJSON line")
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeData, "failed to scan NDJSON input")
	}

	return rows, nil
}
