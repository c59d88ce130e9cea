// Package models loads anomaly detector and classifier artifacts and keeps
// the active model bundle.
package models

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/okian/invoicerisk/internal/domain/scoring"
)

// Artifact file extensions.
const (
	ExtJSON = ".json"
	ExtONNX = ".onnx"
)

// versionSpace namespaces bundle versions derived from artifact content.
var versionSpace = uuid.MustParse("6f1c2a9e-8d4b-4a53-9a1e-3c7b5e2d9f10")

// Artifacts names the two files that make up a bundle.
type Artifacts struct {
	Dir            string
	AnomalyFile    string
	ClassifierFile string
	ONNXLibrary    string
}

// LoadBundle loads both artifacts. Either both load or neither is kept.
func LoadBundle(a Artifacts) (*scoring.Bundle, error) {
	anomalyPath, err := resolve(a.Dir, a.AnomalyFile)
	if err != nil {
		return nil, err
	}
	classifierPath, err := resolve(a.Dir, a.ClassifierFile)
	if err != nil {
		return nil, err
	}

	detector, err := loadDetector(anomalyPath, a.ONNXLibrary)
	if err != nil {
		return nil, fmt.Errorf("anomaly detector: %w", err)
	}
	classifier, err := loadClassifier(classifierPath, a.ONNXLibrary)
	if err != nil {
		closeQuietly(detector)
		return nil, fmt.Errorf("classifier: %w", err)
	}

	version, err := contentVersion(anomalyPath, classifierPath)
	if err != nil {
		closeQuietly(detector)
		closeQuietly(classifier)
		return nil, err
	}
	return scoring.NewBundle(detector, classifier,
		scoring.WithVersion(version),
		scoring.WithSource(a.Dir),
	)
}

// resolve finds name in dir. When it is missing, the same stem with the
// other supported extension is tried.
func resolve(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", ErrArtifactMissing)
	}
	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(dir, name)
	}
	candidates := []string{path}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtJSON:
		candidates = append(candidates, stem+ExtONNX)
	case ExtONNX:
		candidates = append(candidates, stem+ExtJSON)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", c, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrArtifactMissing, path)
}

func loadDetector(path, lib string) (scoring.AnomalyDetector, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtJSON:
		return LoadIsolationForest(path)
	case ExtONNX:
		return LoadONNXDetector(path, lib)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func loadClassifier(path, lib string) (scoring.Classifier, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtJSON:
		return LoadLogisticRegression(path)
	case ExtONNX:
		return LoadONNXClassifier(path, lib)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// contentVersion derives a stable version from both artifacts, so reloading
// unchanged files keeps the same version.
func contentVersion(paths ...string) (string, error) {
	var buf []byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", p, err)
		}
		buf = append(buf, data...)
	}
	return uuid.NewSHA1(versionSpace, buf).String(), nil
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
