package models

import "errors"

// Sentinel errors for model loading.
var (
	ErrArtifactMissing    = errors.New("model artifact missing")
	ErrUnsupportedFormat  = errors.New("unsupported model format")
	ErrInvalidArtifact    = errors.New("invalid model artifact")
	ErrRuntimeUnavailable = errors.New("onnx runtime unavailable")
)
