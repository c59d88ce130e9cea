package repository

import "errors"

// Sentinel kinds for benchmark repository errors.
var (
	ErrNoSource     = errors.New("no benchmark source configured")
	ErrInvalidTable = errors.New("invalid benchmark table name")
	ErrDecode       = errors.New("benchmark data could not be decoded")
	ErrNotLoaded    = errors.New("benchmarks not loaded")
)
