package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/types"
)

// ProcessedInput is the pipeline's wrapped payload handed to the predictor.
type ProcessedInput struct {
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// runPipeline executes validate → preprocess → execute → postprocess for a
// single request. Stages run strictly in order; the predictor call is raced
// against the effective timeout.
func (w *Worker) runPipeline(ctx context.Context, model *LoadedModel, req *types.InferenceRequest) (*types.InferenceResult, error) {
	start := time.Now()

	if err := validateInput(model, req.InputData); err != nil {
		return nil, err
	}

	processed := preprocess(req.InputData, model)

	raw, err := w.execute(ctx, model, processed, req.Options)
	if err != nil {
		return nil, err
	}

	result := postprocess(raw, model)
	result.InferenceID = uuid.New().String()
	result.ModelID = model.ID
	result.ProcessingTime = time.Since(start)
	result.Success = true
	return result, nil
}

// validateInput rejects null and empty payloads. Shape conformance is a
// runtime concern; an advertised input shape is only recorded downstream.
func validateInput(_ *LoadedModel, input any) error {
	if input == nil {
		return fmt.Errorf("%w: input data is required", errdefs.ErrBadRequest)
	}
	switch v := input.(type) {
	case string:
		if v == "" {
			return fmt.Errorf("%w: input data is empty", errdefs.ErrBadRequest)
		}
	case map[string]any:
		if len(v) == 0 {
			return fmt.Errorf("%w: input data is empty", errdefs.ErrBadRequest)
		}
	case []any:
		if len(v) == 0 {
			return fmt.Errorf("%w: input data is empty", errdefs.ErrBadRequest)
		}
	}
	return nil
}

// preprocess wraps the payload with processing metadata. The data is
// carried by value; orphaned work after a timeout never shares buffers with
// a later request.
func preprocess(input any, model *LoadedModel) *ProcessedInput {
	meta := map[string]any{
		"processedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if shape := originalShape(input); shape != "" {
		meta["originalShape"] = shape
	}
	_ = model
	return &ProcessedInput{Data: input, Metadata: meta}
}

// execute races the predictor against the effective timeout:
// options.timeout, falling back to the worker default. When the timer wins
// the work is abandoned best-effort: the goroutine delivers into a buffered
// channel and exits, so nothing accumulates.
func (w *Worker) execute(ctx context.Context, model *LoadedModel, input *ProcessedInput, opts *types.InferenceOptions) (*PredictOutput, error) {
	timeout := w.inferenceTimeout
	if opts != nil && opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	predictCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		out *PredictOutput
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: predict panicked: %v", errdefs.ErrExecutionError, r)}
			}
		}()
		out, err := model.Predictor.Predict(predictCtx, input)
		done <- outcome{out: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: after %v", errdefs.ErrInferenceTimeout, timeout)
			}
			return nil, fmt.Errorf("%w: %v", errdefs.ErrExecutionError, o.err)
		}
		return o.out, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: after %v", errdefs.ErrInferenceTimeout, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errdefs.ErrInferenceTimeout, ctx.Err())
	}
}

// postprocess normalizes predictor output: predictions default to the raw
// output itself, confidence defaults to 0.5, and the model version is
// stamped into the metadata.
func postprocess(raw *PredictOutput, model *LoadedModel) *types.InferenceResult {
	result := &types.InferenceResult{
		Confidence: 0.5,
		Metadata: map[string]any{
			"modelVersion": model.Version,
			"processedAt":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	if raw == nil {
		return result
	}

	if raw.Predictions != nil {
		result.Predictions = raw.Predictions
	} else {
		result.Predictions = raw
	}
	if raw.Confidence != nil {
		result.Confidence = *raw.Confidence
	}
	for k, v := range raw.Metadata {
		result.Metadata[k] = v
	}
	return result
}

// originalShape describes list-like payloads for the processing metadata.
func originalShape(input any) string {
	switch v := input.(type) {
	case []any:
		return fmt.Sprintf("[%d]", len(v))
	case []float64:
		return fmt.Sprintf("[%d]", len(v))
	case map[string]any:
		return fmt.Sprintf("{%d keys}", len(v))
	}
	return ""
}
