// Package common provides shared utilities and default configuration.
package common

import "time"

// Environment-derived defaults for the job execution core. Unknown or unset
// environment values fall back to these.
const (
	DefaultMaxJobWorkers           = 4
	DefaultJobTimeoutSeconds       = 86400
	DefaultJobMaxRetries           = 3
	DefaultConsecutiveFailureLimit = 3
	DefaultRetryDelay              = 2 * time.Second
	DefaultProgressMaxAge          = 24 * time.Hour
)
