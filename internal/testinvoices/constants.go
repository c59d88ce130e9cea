package testinvoices

import "time"

// HTTP status code constants.
const (
	StatusOK              = 200
	StatusAccepted        = 202
	StatusTooManyRequests = 429
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
	maxSubmitAttempts       = 5
	throttleBackoff         = 100 * time.Millisecond
)

// Runner configuration constants.
const (
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultWaitTimeout   = 2 * time.Minute
	PercentageMultiplier = 100
)
