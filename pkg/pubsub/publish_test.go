package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
)

func TestTopicURI(t *testing.T) {
	assert.Equal(t, "projects/my-project/topics/my-topic", TopicURI("my-project", "my-topic"))
}

func TestParseTopicURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantProject string
		wantTopic   string
		wantErr     bool
	}{
		{name: "valid", uri: "projects/my-project/topics/my-topic", wantProject: "my-project", wantTopic: "my-topic"},
		{name: "round trip", uri: TopicURI("p", "t"), wantProject: "p", wantTopic: "t"},
		{name: "empty", uri: "", wantErr: true},
		{name: "bare topic name", uri: "my-topic", wantErr: true},
		{name: "wrong collection", uri: "projects/p/subscriptions/s", wantErr: true},
		{name: "missing project", uri: "projects//topics/t", wantErr: true},
		{name: "missing topic", uri: "projects/p/topics/", wantErr: true},
		{name: "trailing segment", uri: "projects/p/topics/t/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project, topic, err := ParseTopicURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProject, project)
			assert.Equal(t, tt.wantTopic, topic)
		})
	}
}

func TestEncodePayload(t *testing.T) {
	t.Run("string passes through", func(t *testing.T) {
		data, err := encodePayload("hello")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("bytes pass through", func(t *testing.T) {
		data, err := encodePayload([]byte{0x01, 0x02})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02}, data)
	})

	t.Run("values marshal to JSON", func(t *testing.T) {
		data, err := encodePayload(map[string]interface{}{"cursor": "abc"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"cursor":"abc"}`, string(data))
	})

	t.Run("nil rejected", func(t *testing.T) {
		_, err := encodePayload(nil)
		require.Error(t, err)
		assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeValidation))
	})
}

func TestUnmarshalWebhook(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var ws webhookSecret
		err := unmarshalWebhook([]byte(`{"hook":"https://hooks.slack.com/services/x/y/z"}`), &ws)
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.slack.com/services/x/y/z", ws.Hook)
	})

	t.Run("not JSON", func(t *testing.T) {
		var ws webhookSecret
		err := unmarshalWebhook([]byte("not json"), &ws)
		require.Error(t, err)
		assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeData))
	})

	t.Run("missing hook field", func(t *testing.T) {
		var ws webhookSecret
		err := unmarshalWebhook([]byte(`{"other":"value"}`), &ws)
		require.Error(t, err)
		assert.True(t, gcperrors.IsType(err, gcperrors.ErrorTypeData))
	})
}
