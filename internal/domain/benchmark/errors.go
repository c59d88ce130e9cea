package benchmark

import "errors"

// ErrInvalidBenchmark is returned when a benchmark entry fails validation.
var ErrInvalidBenchmark = errors.New("invalid rate benchmark")
