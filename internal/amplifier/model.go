package amplifier

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Classifier is a loaded fraud model. Predict receives one feature vector
// and returns either a single probability or a two-class distribution
// (index 1 = fraud).
type Classifier interface {
	Predict(features []float32) ([]float32, error)
	Version() string
	InputSize() int
}

var (
	// ErrFeatureVersion is returned when an artifact targets a different
	// feature contract.
	ErrFeatureVersion = errors.New("amplifier: feature version mismatch")

	// ErrShape is returned when input or output dimensions are wrong.
	ErrShape = errors.New("amplifier: shape mismatch")
)

//go:embed models/fraud_model_v1.json
var bundledModel []byte

// LogisticModel is a binary logistic regression over the v1 features.
type LogisticModel struct {
	FeatureVersion string    `json:"feature_version"`
	ModelVersion   string    `json:"model_version"`
	Features       []string  `json:"features,omitempty"`
	Weights        []float64 `json:"weights"`
	Bias           float64   `json:"bias"`
}

// ParseLogisticModel decodes and validates a JSON model artifact.
func ParseLogisticModel(data []byte) (*LogisticModel, error) {
	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("amplifier: decode model: %w", err)
	}
	if m.FeatureVersion != FeatureVersion {
		return nil, fmt.Errorf("%w: artifact %q, runtime %q", ErrFeatureVersion, m.FeatureVersion, FeatureVersion)
	}
	if len(m.Weights) != FeatureCount {
		return nil, fmt.Errorf("%w: %d weights, want %d", ErrShape, len(m.Weights), FeatureCount)
	}
	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("amplifier: weight %d is not finite", i)
		}
	}
	if m.ModelVersion == "" {
		m.ModelVersion = "unknown"
	}
	return &m, nil
}

// LoadLogisticModel reads a model artifact from path. An empty path loads
// the model bundled with the binary.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	if path == "" {
		return ParseLogisticModel(bundledModel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("amplifier: read model: %w", err)
	}
	return ParseLogisticModel(data)
}

// Predict returns [p(legit), p(fraud)].
func (m *LogisticModel) Predict(features []float32) ([]float32, error) {
	if len(features) != len(m.Weights) {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrShape, len(features), len(m.Weights))
	}
	z := m.Bias
	for i, x := range features {
		z += m.Weights[i] * float64(x)
	}
	p := 1 / (1 + math.Exp(-z))
	return []float32{float32(1 - p), float32(p)}, nil
}

func (m *LogisticModel) Version() string { return m.ModelVersion }

func (m *LogisticModel) InputSize() int { return len(m.Weights) }
