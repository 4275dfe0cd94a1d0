// Package trigger implements the retry-timeout guard for event-driven
// serverless functions.
//
// Platforms with retry-on-failure redeliver a failed event with the original
// trigger timestamp, so every retry of a permanently-failing function looks
// like a fresh invocation. Calling Evaluate before any business logic breaks
// that loop: once the original trigger is older than the configured
// threshold, the guard reports an abort (optionally alerting through a sink)
// and the function can return normally instead of failing again.
//
//	func handle(ctx context.Context, ev trigger.Event) error {
//	    res, err := trigger.Evaluate(ctx, ev, trigger.Config{Notify: true, Sink: hook})
//	    if err != nil || res.Outcome == trigger.Abort {
//	        return nil // swallow; returning an error would re-trigger the retry loop
//	    }
//	    // business logic, res.Payload carries the decoded message if any
//	}
package trigger

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/logger"
	"github.com/stackbound/gcpkit/pkg/slack"
)

// DefaultTimeout is the retry threshold applied when Config.Timeout is zero.
const DefaultTimeout = 1800 * time.Second

// Event describes one delivery attempt of a retried invocation.
type Event struct {
	// Timestamp is the RFC 3339 instant of the first delivery attempt in the
	// retry chain, not the current attempt. Delivery systems keep it constant
	// across retries, which is what makes the guard effective.
	Timestamp string
	// ID is an opaque event identifier, used only for logging.
	ID string
	// Data is the base64-encoded payload exactly as attached by the delivery
	// system. nil means no payload was attached, which is distinct from an
	// empty payload.
	Data []byte
}

// AlertSink delivers a formatted failure notification. Any failure it returns
// is logged and swallowed by the guard.
type AlertSink interface {
	SendAlert(ctx context.Context, title, body, color string) error
}

// Config controls a single evaluation.
type Config struct {
	// Timeout is the retry threshold; zero means DefaultTimeout (30 minutes).
	Timeout time.Duration
	// Notify controls whether an abort attempts a best-effort alert via Sink.
	Notify bool
	// Sink receives the abort notification when Notify is set.
	Sink AlertSink
	// Project and Service identify the function in the notification's Logs
	// Explorer link. Empty values degrade the link, never the decision.
	Project string
	Service string
	// Now supplies the current time; nil means wall clock UTC. Injectable for
	// tests.
	Now func() time.Time
	// Logger overrides the package logger.
	Logger *zap.Logger
}

// Outcome is the guard's decision.
type Outcome int

const (
	// Proceed means the retry threshold has not been exceeded; business logic
	// may run.
	Proceed Outcome = iota
	// Abort means the threshold was exceeded and processing must stop.
	Abort
)

// Result is the outcome of one evaluation.
type Result struct {
	Outcome Outcome
	// Elapsed is the time since the original trigger, clamped to >= 0.
	Elapsed time.Duration
	// Payload is the decoded event payload on the Proceed path. nil means no
	// payload was attached; an attached empty payload yields a pointer to "".
	Payload *string
}

// Evaluate decides whether processing should proceed given the elapsed time
// since the first delivery attempt. It is stateless and idempotent: identical
// inputs yield identical results.
//
// A negative elapsed duration (clock skew between the delivery system and
// this process) is clamped to zero, so skew can never cause a spurious abort.
//
// The only errors returned are caller errors: an unparseable Timestamp or
// undecodable Data. Notification failures on the abort path are logged and
// swallowed.
func Evaluate(ctx context.Context, ev Event, cfg Config) (Result, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	if ev.ID != "" {
		log = log.With(zap.String("event_id", ev.ID))
	}

	eventTime, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		return Result{}, gcperrors.Wrap(err, gcperrors.ErrorTypeValidation,
			"malformed trigger timestamp").WithDetail("timestamp", ev.Timestamp)
	}

	now := time.Now().UTC()
	if cfg.Now != nil {
		now = cfg.Now()
	}

	elapsed := now.Sub(eventTime)
	if elapsed < 0 {
		log.Warn("trigger timestamp is in the future, clamping elapsed time to zero",
			zap.Time("trigger_time", eventTime),
			zap.Time("now", now))
		elapsed = 0
	}
	log.Info("lapsed time since triggering event",
		zap.Float64("elapsed_seconds", elapsed.Seconds()))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if elapsed > timeout {
		log.Error("retry threshold exceeded, aborting",
			zap.Duration("threshold", timeout),
			zap.Duration("exceeded_by", elapsed-timeout))
		if cfg.Notify {
			notifyFailure(ctx, cfg, eventTime, now, log)
		}
		return Result{Outcome: Abort, Elapsed: elapsed}, nil
	}

	if ev.Data == nil {
		return Result{Outcome: Proceed, Elapsed: elapsed}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(string(ev.Data))
	if err != nil {
		return Result{}, gcperrors.Wrap(err, gcperrors.ErrorTypeValidation,
			"payload is not valid base64")
	}
	payload := string(decoded)
	return Result{Outcome: Proceed, Elapsed: elapsed, Payload: &payload}, nil
}

// notifyFailure delivers the abort alert. Best-effort: every failure path
// logs and returns, the abort decision is already made.
func notifyFailure(ctx context.Context, cfg Config, eventTime, now time.Time, log *zap.Logger) {
	if cfg.Sink == nil {
		log.Warn("notify requested but no alert sink configured")
		return
	}

	title, body := slack.FailureMessage(cfg.Project, cfg.Service, eventTime, now)
	if err := cfg.Sink.SendAlert(ctx, title, body, slack.AlertColor); err != nil {
		log.Error("could not deliver fail alert",
			zap.Error(gcperrors.Wrap(err, gcperrors.ErrorTypeNotification, "alert delivery failed")))
	}
}
