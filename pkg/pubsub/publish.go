// Package pubsub wraps Pub/Sub publishing for serverless functions, plus
// trigger processing for functions that are themselves Pub/Sub-triggered.
package pubsub

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/stackbound/gcpkit/pkg/config"
	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
	"github.com/stackbound/gcpkit/pkg/logger"
)

// TopicURI formats a fully-qualified topic URI.
func TopicURI(project, topic string) string {
	return fmt.Sprintf("projects/%s/topics/%s", project, topic)
}

// ParseTopicURI splits a projects/{project}/topics/{topic} URI.
func ParseTopicURI(uri string) (project, topic string, err error) {
	parts := strings.Split(uri, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" || parts[1] == "" || parts[3] == "" {
		return "", "", gcperrors.Newf(gcperrors.ErrorTypeValidation,
			"invalid topic URI %q, want projects/{project}/topics/{topic}", uri)
	}
	return parts[1], parts[3], nil
}

// Publish publishes a message to the topic identified by its full URI. The
// executing account needs Pub/Sub Publisher on the topic or project. payload
// may be a string, []byte, or any JSON-marshalable value.
func Publish(ctx context.Context, topicURI string, payload interface{}, opts ...option.ClientOption) error {
	project, topicID, err := ParseTopicURI(topicURI)
	if err != nil {
		return err
	}

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	log := logger.Get().With(zap.String("component", "pubsub"))
	log.Info("publishing message",
		zap.String("topic", topicURI),
		zap.Int("bytes", len(data)))

	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to create pubsub client")
	}
	defer func() { _ = client.Close() }()

	topic := client.Topic(topicID)
	defer topic.Stop()

	id, err := topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to publish message").
			WithDetail("topic", topicURI)
	}

	log.Info("message published", zap.String("message_id", id))
	return nil
}

// Retrigger dispatches the next iteration of a Pub/Sub-triggered function by
// publishing payload to the function's own trigger topic, taken from the
// runtime config (the _GOOGLE_PROJECT and _TRIGGER_TOPIC environment
// variables via config.FromEnv).
func Retrigger(ctx context.Context, payload interface{}, rt config.Runtime, opts ...option.ClientOption) error {
	if rt.Project == "" || rt.TriggerTopic == "" {
		return gcperrors.New(gcperrors.ErrorTypeConfig,
			"retrigger requires both the project and trigger topic to be configured")
	}
	logger.Get().Info("dispatching next worker",
		zap.String("topic", rt.TriggerTopic))
	return Publish(ctx, TopicURI(rt.Project, rt.TriggerTopic), payload, opts...)
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, gcperrors.New(gcperrors.ErrorTypeValidation, "payload must not be nil")
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		data, err := jsonutil.Marshal(p)
		if err != nil {
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeData, "failed to marshal payload")
		}
		return data, nil
	}
}
