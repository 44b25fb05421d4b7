package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/infermesh/infermesh/pkg/types"
)

// Predictor is the opaque inference capability of a loaded model. Shapes
// and tensor semantics are runtime concerns; the worker only races the call
// against a timer and normalizes its output.
type Predictor interface {
	Predict(ctx context.Context, input *ProcessedInput) (*PredictOutput, error)
}

// PredictOutput is what a predictor returns. Predictions and Confidence may
// be absent; postprocessing fills defaults.
type PredictOutput struct {
	Predictions any            `json:"predictions"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// LoadedModel is a model resident in the worker's cache, ready to serve.
type LoadedModel struct {
	ID        string
	Type      string
	Version   string
	Metadata  *types.ModelMetadata
	Predictor Predictor
	LoadedAt  time.Time
}

// PredictorFactory builds a predictor from a fetched model blob. The
// default factory returns the simulation runtime; deployments plug real
// runtimes in here.
type PredictorFactory func(meta *types.ModelMetadata, blob []byte) (Predictor, error)

// simPredictionCount matches the output width of the simulation runtime.
const simPredictionCount = 1000

// SimPredictor is a deterministic simulation runtime. It produces a fixed
// width prediction vector derived from the input payload, with optional
// latency and failure injection for tests.
type SimPredictor struct {
	ModelID string
	// Latency delays each call; zero means immediate.
	Latency time.Duration
	// Fail, when set, is returned on every call.
	Fail error
}

// NewSimPredictor is the default PredictorFactory.
func NewSimPredictor(meta *types.ModelMetadata, _ []byte) (Predictor, error) {
	if meta == nil {
		return nil, fmt.Errorf("nil model metadata")
	}
	return &SimPredictor{ModelID: meta.ModelID}, nil
}

// Predict derives a deterministic prediction vector from the input. The
// same model and input always produce the same output.
func (p *SimPredictor) Predict(ctx context.Context, input *ProcessedInput) (*PredictOutput, error) {
	if p.Fail != nil {
		return nil, p.Fail
	}
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	seed := p.seed(input)
	predictions := make([]float64, simPredictionCount)
	for i := range predictions {
		// xorshift keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		predictions[i] = float64(seed%10000) / 10000.0
	}

	confidence := math.Abs(float64(seed%1000)) / 1000.0
	return &PredictOutput{
		Predictions: predictions,
		Confidence:  &confidence,
		Metadata:    map[string]any{"runtime": "sim"},
	}, nil
}

func (p *SimPredictor) seed(input *ProcessedInput) uint64 {
	h := fnv.New64a()
	h.Write([]byte(p.ModelID))
	if input != nil {
		fmt.Fprintf(h, "%v", input.Data)
	}
	seed := h.Sum64()
	if seed == 0 {
		seed = 1
	}
	return seed
}
