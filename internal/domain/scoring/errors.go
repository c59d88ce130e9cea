package scoring

import "errors"

var (
	// ErrIncompleteBundle is returned when a bundle is missing the detector or the classifier.
	ErrIncompleteBundle = errors.New("model bundle requires both anomaly detector and classifier")
	// ErrModelOutput is returned when a model produces unusable output.
	ErrModelOutput = errors.New("invalid model output")
	// ErrBundleClosed is returned when a released bundle is used again.
	ErrBundleClosed = errors.New("model bundle closed")
	// ErrRuleCompile is returned when a deterministic rule expression fails to compile.
	ErrRuleCompile = errors.New("rule compile failed")
)
