package pubsub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stackbound/gcpkit/pkg/config"
	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
	"github.com/stackbound/gcpkit/pkg/logger"
	"github.com/stackbound/gcpkit/pkg/secrets"
	"github.com/stackbound/gcpkit/pkg/slack"
	"github.com/stackbound/gcpkit/pkg/trigger"
)

// webhookSecret is the expected JSON shape of the fail-alert webhook secret.
type webhookSecret struct {
	Hook string `json:"hook"`
}

// ProcessTrigger is the first call a retry-enabled Pub/Sub-triggered function
// should make. It runs the retry-timeout guard over the triggering event and
// returns the decoded payload, or nil when the event carried none.
//
// Wrap the call so that its errors return normally instead of propagating —
// an error escaping the function body would itself re-enter the retry loop:
//
//	func main(ctx context.Context, ev trigger.Event) error {
//	    payload, err := pubsub.ProcessTrigger(ctx, ev, trigger.Config{Notify: true})
//	    if err != nil {
//	        log.Error("aborting", zap.Error(err))
//	        return nil
//	    }
//	    ...
//	}
//
// Unlike trigger.Evaluate, an exceeded threshold is returned as an
// ErrorTypeTimeout error, since stopping is all a function body can do with
// it. Missing identity or webhook configuration degrades the notification
// (logged, swallowed) but never blocks the timeout decision.
//
// When cfg.Notify is set and no sink is supplied, the Slack webhook is
// fetched from Secret Manager using the URI in the
// FAIL_ALERT_WEBHOOK_SECRET_URI environment variable; the secret payload must
// be {"hook": "https://hooks.slack.com/services/..."}. The fetch happens only
// when an alert is actually sent, so invocations that proceed never touch
// Secret Manager. Project and Service default to the environment-derived
// identity.
func ProcessTrigger(ctx context.Context, ev trigger.Event, cfg trigger.Config) (*string, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	log.Info("processing trigger", zap.String("event_id", ev.ID))

	rt := config.FromEnv()
	if cfg.Project == "" {
		cfg.Project = rt.Project
	}
	if cfg.Service == "" {
		cfg.Service = rt.Service
	}
	if cfg.Notify && cfg.Sink == nil {
		cfg.Sink = &failAlertSink{rt: rt}
	}

	res, err := trigger.Evaluate(ctx, ev, cfg)
	if err != nil {
		return nil, err
	}
	if res.Outcome == trigger.Abort {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = trigger.DefaultTimeout
		}
		return nil, gcperrors.Newf(gcperrors.ErrorTypeTimeout,
			"threshold of %.0f seconds exceeded by %.0f seconds",
			timeout.Seconds(), (res.Elapsed - timeout).Seconds()).
			WithDetail("elapsed_seconds", res.Elapsed.Seconds())
	}
	return res.Payload, nil
}

// failAlertSink delivers alerts through the Slack webhook named by the
// runtime config, fetching the webhook from Secret Manager on first use so
// the proceed path never pays for it.
type failAlertSink struct {
	rt config.Runtime
}

func (s *failAlertSink) SendAlert(ctx context.Context, title, body, color string) error {
	hook, err := s.fetchWebhook(ctx)
	if err != nil {
		return err
	}
	return slack.NewWebhook(hook).SendAlert(ctx, title, body, color)
}

func (s *failAlertSink) fetchWebhook(ctx context.Context) (string, error) {
	if s.rt.FailAlertWebhookSecretURI == "" {
		return "", gcperrors.New(gcperrors.ErrorTypeConfig,
			"FAIL_ALERT_WEBHOOK_SECRET_URI is not set; expected a full secret version URI")
	}

	sc, err := secrets.NewClient(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = sc.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	raw, err := sc.Access(ctx, s.rt.FailAlertWebhookSecretURI)
	if err != nil {
		return "", err
	}

	var ws webhookSecret
	if err := unmarshalWebhook(raw, &ws); err != nil {
		return "", err
	}
	return ws.Hook, nil
}

func unmarshalWebhook(raw []byte, ws *webhookSecret) error {
	if err := jsonutil.Unmarshal(raw, ws); err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeData,
			"fail alert webhook secret is not valid JSON")
	}
	if ws.Hook == "" {
		return gcperrors.New(gcperrors.ErrorTypeData,
			`fail alert webhook secret is missing the "hook" field`)
	}
	return nil
}
