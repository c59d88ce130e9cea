// Package scoring turns invoice line items into risk scores.
//
// Two paths exist. The ML path combines an anomaly detector and an overspend
// classifier loaded as a Bundle. The deterministic path applies fixed
// heuristics to the raw items and is always available. The Orchestrator picks
// a path per batch and degrades instead of failing.
package scoring

// Path is a scoring route chosen for one batch.
type Path int

// Scoring paths.
const (
	PathML Path = iota
	PathDeterministic
)

func (p Path) String() string {
	switch p {
	case PathML:
		return "ml"
	case PathDeterministic:
		return "deterministic"
	default:
		return "unknown"
	}
}

// SelectPath picks the route for a batch. ML is used only when models are
// loaded and no ML attempt on the batch has failed yet.
func SelectPath(modelsLoaded bool, lastErr error) Path {
	if !modelsLoaded || lastErr != nil {
		return PathDeterministic
	}
	return PathML
}
