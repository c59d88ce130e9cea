package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/invoicerisk/internal/domain/features"
	ort "github.com/yalue/onnxruntime_go"
)

// Output names produced by the usual sklearn converters.
const (
	onnxScoresOutput        = "scores"
	onnxProbabilitiesOutput = "probabilities"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime loads the onnxruntime shared library once per process.
func initRuntime(libPath string) error {
	if libPath == "" {
		return fmt.Errorf("%w: onnx_library_path not set", ErrRuntimeUnavailable)
	}
	ortOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		}
	})
	return ortErr
}

// onnxModel runs one ONNX graph with a single float input of shape [N, Width].
type onnxModel struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   string
	output  string
	column  int
}

func openONNX(path, libPath, wantOutput string) (*onnxModel, error) {
	if err := initRuntime(libPath); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArtifact, path, err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: %s: want one input, got %d inputs and %d outputs",
			ErrInvalidArtifact, path, len(inputs), len(outputs))
	}
	dims := inputs[0].Dimensions
	if len(dims) != 2 || (dims[1] > 0 && dims[1] != int64(features.Width)) {
		return nil, fmt.Errorf("%w: %s: input shape %v does not take %d features",
			ErrInvalidArtifact, path, dims, features.Width)
	}

	output := outputs[len(outputs)-1]
	for _, o := range outputs {
		if o.Name == wantOutput {
			output = o
			break
		}
	}
	column := 0
	if od := output.Dimensions; len(od) == 2 && od[1] == 2 {
		column = 1
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{output.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArtifact, path, err)
	}
	return &onnxModel{session: session, input: inputs[0].Name, output: output.Name, column: column}, nil
}

func (m *onnxModel) run(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return []float64{}, nil
	}
	flat := make([]float32, 0, len(vectors)*features.Width)
	for i, row := range vectors {
		if len(row) != features.Width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), features.Width)
		}
		for _, x := range row {
			flat = append(flat, float32(x))
		}
	}
	in, err := ort.NewTensor(ort.NewShape(int64(len(vectors)), int64(features.Width)), flat)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer in.Destroy()

	outs := []ort.Value{nil}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session closed", ErrRuntimeUnavailable)
	}
	err = m.session.Run([]ort.Value{in}, outs)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", m.output, err)
	}
	defer outs[0].Destroy()

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %s is not a float tensor", m.output)
	}
	data := t.GetData()
	stride := len(data) / len(vectors)
	if stride == 0 || m.column >= stride {
		return nil, fmt.Errorf("output %s has %d values for %d rows", m.output, len(data), len(vectors))
	}
	res := make([]float64, len(vectors))
	for i := range res {
		res[i] = float64(data[i*stride+m.column])
	}
	return res, nil
}

// Close destroys the session.
func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// ONNXDetector is an anomaly detector backed by an ONNX graph whose output
// holds decision values.
type ONNXDetector struct{ *onnxModel }

// DecisionFunction runs the graph.
func (d ONNXDetector) DecisionFunction(_ context.Context, vectors [][]float64) ([]float64, error) {
	return d.run(vectors)
}

// ONNXClassifier is a classifier backed by an ONNX graph whose output holds
// class probabilities.
type ONNXClassifier struct{ *onnxModel }

// PredictProba runs the graph and keeps the positive-class column.
func (c ONNXClassifier) PredictProba(_ context.Context, vectors [][]float64) ([]float64, error) {
	return c.run(vectors)
}

// LoadONNXDetector opens an anomaly detector graph.
func LoadONNXDetector(path, libPath string) (*ONNXDetector, error) {
	m, err := openONNX(path, libPath, onnxScoresOutput)
	if err != nil {
		return nil, err
	}
	return &ONNXDetector{m}, nil
}

// LoadONNXClassifier opens a classifier graph.
func LoadONNXClassifier(path, libPath string) (*ONNXClassifier, error) {
	m, err := openONNX(path, libPath, onnxProbabilitiesOutput)
	if err != nil {
		return nil, err
	}
	return &ONNXClassifier{m}, nil
}
