// Package config resolves the runtime identity of a serverless function from
// its environment.
//
// Serverless runtimes surface configuration only through environment
// variables, so the library reads them once here and passes the resulting
// Runtime struct around explicitly instead of consulting the environment at
// call sites.
//
// Recognized variables:
//
//	_GOOGLE_PROJECT                the current GCP project
//	K_SERVICE / FUNCTION_NAME      the function name (newer / legacy runtimes)
//	FAIL_ALERT_WEBHOOK_SECRET_URI  full Secret Manager version URI holding the
//	                               Slack webhook, as {"hook": "https://..."}
//	_TRIGGER_TOPIC                 the Pub/Sub topic that triggers the function
package config

import (
	"github.com/spf13/viper"
)

// UnknownService is reported when neither K_SERVICE nor FUNCTION_NAME is set,
// typically when running outside a serverless runtime.
const UnknownService = "UNKNOWN"

// Runtime holds the environment-derived identity of the current invocation.
// Missing values degrade notification delivery but never block the core
// helpers.
type Runtime struct {
	// Project is the current GCP project ID.
	Project string
	// Service is the serverless function name.
	Service string
	// FailAlertWebhookSecretURI locates the Slack webhook secret, in the form
	// projects/{project}/secrets/{name}/versions/latest.
	FailAlertWebhookSecretURI string
	// TriggerTopic is the Pub/Sub topic name the function is subscribed to.
	TriggerTopic string
}

// FromEnv reads the runtime configuration from the process environment.
func FromEnv() Runtime {
	v := viper.New()
	_ = v.BindEnv("project", "_GOOGLE_PROJECT")
	_ = v.BindEnv("service", "K_SERVICE", "FUNCTION_NAME")
	_ = v.BindEnv("fail_alert_webhook_secret_uri", "FAIL_ALERT_WEBHOOK_SECRET_URI")
	_ = v.BindEnv("trigger_topic", "_TRIGGER_TOPIC")
	v.SetDefault("service", UnknownService)

	return Runtime{
		Project:                   v.GetString("project"),
		Service:                   v.GetString("service"),
		FailAlertWebhookSecretURI: v.GetString("fail_alert_webhook_secret_uri"),
		TriggerTopic:              v.GetString("trigger_topic"),
	}
}
