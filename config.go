package lookout

import "errors"

// Config carries process-level settings. StatusAPIURL and CronSecret are
// required for the poll trigger to do anything useful; the rest have
// workable defaults or gate optional features.
type Config struct {
	StatusAPIURL string
	CronSecret   string
	RedisURL     string
	HTTPAddr     string

	// PollCron enables the built-in poll schedule when non-empty
	// (cron expression, e.g. "@every 1m"). Default is external triggers only.
	PollCron string

	// MQTT broker for join/leave announcements; empty disables them.
	MQTTHost string
	MQTTUser string
	MQTTPass string
}

func (c Config) Validate() error {
	if c.RedisURL == "" {
		return errors.New("redis url is required")
	}
	return nil
}
