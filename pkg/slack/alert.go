package slack

import (
	"context"
	"fmt"
	"time"
)

// AlertColor is the attachment border color used for failure alerts.
const AlertColor = "#ff0000"

const logsTimestampLayout = "20060102T150405Z"

// LogsExplorerURL builds a Cloud Console Logs Explorer deep link for the
// given function, time-ranged from eventTime to currentTime.
func LogsExplorerURL(project, service string, eventTime, currentTime time.Time) string {
	return fmt.Sprintf(
		"https://console.cloud.google.com/logs/query;query="+
			"resource.type%%3D%%22cloud_function%%22%%0A"+
			"resource.labels.function_name%%3D%%22%s%%22;"+
			"timeRange=%s%%2F%s"+
			"?project=%s",
		service,
		eventTime.UTC().Format(logsTimestampLayout),
		currentTime.UTC().Format(logsTimestampLayout),
		project,
	)
}

// FailureMessage formats the title and body of a retry-threshold-exceeded
// alert, including a Logs Explorer link covering the window from the original
// trigger to now. The trigger guard uses it to compose the alert it hands to
// its sink, keeping the wording identical to FailureAlert.
func FailureMessage(project, service string, eventTime, currentTime time.Time) (title, body string) {
	title = ":exclamation: *Cloud Function Failed* :exclamation: @here"
	body = fmt.Sprintf(
		"`%s` exceeded its retry threshold in `%s`\nSee logs here: <%s|Logs Explorer>",
		service, project,
		LogsExplorerURL(project, service, eventTime, currentTime),
	)
	return title, body
}

// FailureAlert sends a retry-threshold-exceeded alert. Called by the trigger
// guard when a function exceeds its retry threshold; can also be called
// directly.
func (w *Webhook) FailureAlert(ctx context.Context, eventTime, currentTime time.Time, project, service string) error {
	title, body := FailureMessage(project, service, eventTime, currentTime)
	return w.Send(ctx, title, body, AlertColor)
}

// ErrorAlert sends an error message to Slack. Not necessarily indicative of
// a crash.
func (w *Webhook) ErrorAlert(ctx context.Context, message, project, service string) error {
	title := fmt.Sprintf(
		":exclamation: *Cloud Function Encountered Error* :exclamation: @here\n"+
			"\t- *Project*: `%s`\n\t- *Function*: `%s`",
		project, service,
	)
	return w.Send(ctx, title, message, AlertColor)
}
