package slack

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
)

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]map[string]interface{}) {
	t.Helper()
	var received []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var msg map[string]interface{}
		require.NoError(t, jsonutil.Unmarshal(body, &msg))
		received = append(received, msg)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestSend(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	err := w.Send(context.Background(), "*Title*", "body text", "#36a64f")
	require.NoError(t, err)

	require.Len(t, *received, 1)
	msg := (*received)[0]

	blocks := msg["blocks"].([]interface{})
	require.Len(t, blocks, 1)
	title := blocks[0].(map[string]interface{})["text"].(map[string]interface{})
	assert.Equal(t, "mrkdwn", title["type"])
	assert.Equal(t, "*Title*", title["text"])

	attachments := msg["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]interface{})
	assert.Equal(t, "#36a64f", att["color"])
	attBlocks := att["blocks"].([]interface{})
	require.Len(t, attBlocks, 1)
	body := attBlocks[0].(map[string]interface{})["text"].(map[string]interface{})
	assert.Equal(t, "body text", body["text"])
}

func TestSend_DefaultColor(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	require.NoError(t, w.Send(context.Background(), "t", "x", ""))
	att := (*received)[0]["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "#000000", att["color"])
}

func TestSend_EmptyText(t *testing.T) {
	w := NewWebhook("http://127.0.0.1:0")
	err := w.Send(context.Background(), "title", "", "")
	require.Error(t, err)
	assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeValidation))
}

func TestSendBlocks(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	err := w.SendBlocks(context.Background(), "title", []string{"one", "two", "three"}, "#ff0000")
	require.NoError(t, err)

	att := (*received)[0]["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Len(t, att["blocks"].([]interface{}), 3)
}

func TestSendBlocks_Empty(t *testing.T) {
	w := NewWebhook("http://127.0.0.1:0")
	err := w.SendBlocks(context.Background(), "title", nil, "")
	require.Error(t, err)
	assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeValidation))
}

func TestSend_Truncation(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	long := strings.Repeat("x", maxAttachmentText+500)
	require.NoError(t, w.Send(context.Background(), "t", long, ""))

	att := (*received)[0]["attachments"].([]interface{})[0].(map[string]interface{})
	text := att["blocks"].([]interface{})[0].(map[string]interface{})["text"].(map[string]interface{})["text"].(string)
	assert.True(t, strings.HasSuffix(text, "\n..."))
	assert.LessOrEqual(t, len(text), maxAttachmentText+4)
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// Two bytes per rune and an odd byte limit: the cut falls mid-rune.
	long := strings.Repeat("é", maxAttachmentText)
	got := truncate(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "\n..."))
	assert.LessOrEqual(t, len(got), maxAttachmentText+4)
}

func TestSend_Non2xxStatus(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound)
	w := NewWebhook(srv.URL)

	err := w.Send(context.Background(), "t", "x", "")
	require.Error(t, err)
	assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeConnection))
}

func TestSendAlertSatisfiesSinkContract(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	require.NoError(t, w.SendAlert(context.Background(), "title", "body", "#ff0000"))
	assert.Len(t, *received, 1)
}

func TestFailureAlert(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	eventTime := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	currentTime := time.Date(2023, 1, 1, 0, 31, 0, 0, time.UTC)
	err := w.FailureAlert(context.Background(), eventTime, currentTime, "my-project", "my-function")
	require.NoError(t, err)

	msg := (*received)[0]
	title := msg["blocks"].([]interface{})[0].(map[string]interface{})["text"].(map[string]interface{})["text"].(string)
	assert.Contains(t, title, "Cloud Function Failed")

	att := msg["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, AlertColor, att["color"])
	body := att["blocks"].([]interface{})[0].(map[string]interface{})["text"].(map[string]interface{})["text"].(string)
	assert.Contains(t, body, "`my-function`")
	assert.Contains(t, body, "Logs Explorer")
	assert.Contains(t, body, "20230101T000000Z%2F20230101T003100Z")
}

func TestErrorAlert(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	w := NewWebhook(srv.URL)

	require.NoError(t, w.ErrorAlert(context.Background(), "disk full", "my-project", "my-function"))

	msg := (*received)[0]
	title := msg["blocks"].([]interface{})[0].(map[string]interface{})["text"].(map[string]interface{})["text"].(string)
	assert.Contains(t, title, "Cloud Function Encountered Error")
	assert.Contains(t, title, "`my-project`")
	assert.Contains(t, title, "`my-function`")
}

func TestLogsExplorerURL(t *testing.T) {
	u := LogsExplorerURL("proj", "fn",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 0, 31, 0, 0, time.UTC))
	assert.Contains(t, u, "function_name%3D%22fn%22")
	assert.Contains(t, u, "timeRange=20230101T000000Z%2F20230101T003100Z")
	assert.True(t, strings.HasSuffix(u, "?project=proj"))
}
