// Package gcpkit is a convenience library for teams writing small serverless
// functions on Google Cloud. It wraps the Cloud Storage, BigQuery, Secret
// Manager, Pub/Sub and IAM credentials clients with the handful of calls those
// functions actually make, and adds Slack webhook notifications for reporting
// failures.
//
// The packages are independent; import only what you use:
//
//   - pkg/gcs: read/write blobs, including newline-delimited JSON
//   - pkg/bq: dataset/table DDL, NDJSON loads from GCS, queries
//   - pkg/secrets: Secret Manager version access
//   - pkg/pubsub: publish, retrigger, and trigger processing
//   - pkg/trigger: the retry-timeout guard for event-driven functions
//   - pkg/iam: service account impersonation tokens
//   - pkg/slack: webhook messages and failure alerts
//
// Event-driven functions with retries enabled should call
// pubsub.ProcessTrigger (or trigger.Evaluate directly) before any business
// logic; it stops infinite retry loops by aborting once the original trigger
// is older than the configured threshold.
package gcpkit
