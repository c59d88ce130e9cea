package config

import "errors"

// Errors returned by Load and Validate; match them with errors.Is.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")

	// ErrUnsupportedDriver is wrapped together with ErrInvalidConfig.
	ErrUnsupportedDriver = errors.New("unsupported benchmark driver")
)
