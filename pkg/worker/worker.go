package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/types"
)

// ModelFetcher retrieves a model's metadata and blob from the model
// manager. The modelmanager package provides the HTTP implementation.
type ModelFetcher interface {
	FetchModel(ctx context.Context, modelID string) (*types.ModelMetadata, []byte, error)
}

// Worker serves inference requests against preloaded models under a hard
// concurrency ceiling.
type Worker struct {
	id           string
	capabilities types.Capabilities

	maxConcurrent    int
	inferenceTimeout time.Duration

	// loadMu guards currentLoad. The check, the increment, and the
	// decrement on every exit path all happen under it, so the gate is
	// atomic across concurrent requests.
	loadMu      sync.Mutex
	currentLoad int

	// preloadMu guards preloaded. A model id appears here exactly when a
	// loaded model sits in the cache.
	preloadMu sync.Mutex
	preloaded map[string]struct{}

	cache   *lru.Cache[string, *LoadedModel]
	loads   singleflight.Group
	fetcher ModelFetcher
	factory PredictorFactory

	history   *History
	startedAt time.Time
}

// NewWorker builds a worker from config. fetcher resolves cache misses on
// loadModel; factory builds predictors (nil means the simulation runtime).
func NewWorker(cfg config.Worker, fetcher ModelFetcher, factory PredictorFactory) (*Worker, error) {
	if cfg.MaxConcurrentInferences <= 0 {
		return nil, fmt.Errorf("maxConcurrentInferences must be positive, got %d", cfg.MaxConcurrentInferences)
	}
	if factory == nil {
		factory = NewSimPredictor
	}

	w := &Worker{
		id: cfg.ID,
		capabilities: types.Capabilities{
			Models: modelCapabilities(cfg.Capabilities),
			Tags:   tagCapabilities(cfg.Capabilities),
		},
		maxConcurrent:    cfg.MaxConcurrentInferences,
		inferenceTimeout: cfg.InferenceTimeout(),
		preloaded:        make(map[string]struct{}),
		fetcher:          fetcher,
		factory:          factory,
		history:          NewHistory(DefaultHistorySize),
		startedAt:        time.Now(),
	}

	cacheSize := cfg.ModelCacheSize
	if cacheSize <= 0 {
		cacheSize = 5
	}
	cache, err := lru.NewWithEvict(cacheSize, w.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}
	w.cache = cache

	return w, nil
}

// ID returns the worker's identity.
func (w *Worker) ID() string {
	return w.id
}

// Capabilities returns the advertised capability set.
func (w *Worker) Capabilities() types.Capabilities {
	return w.capabilities
}

// LoadModel is idempotent: the first call fetches the model from the model
// manager and caches it; later calls are no-ops. Concurrent loads of the
// same model share one underlying fetch. Returns true when the model is
// loaded after the call.
func (w *Worker) LoadModel(ctx context.Context, modelID string) (bool, error) {
	if modelID == "" {
		return false, fmt.Errorf("%w: empty model id", errdefs.ErrInvalidModelData)
	}
	if !w.capabilities.Has(modelID) {
		return false, fmt.Errorf("%w: %s not in worker capabilities", errdefs.ErrModelNotAvailable, modelID)
	}

	if _, ok := w.cache.Get(modelID); ok {
		return true, nil
	}

	_, err, _ := w.loads.Do(modelID, func() (any, error) {
		// Re-check under the flight: a concurrent loader may have won.
		if _, ok := w.cache.Get(modelID); ok {
			return nil, nil
		}

		if w.fetcher == nil {
			return nil, fmt.Errorf("%w: no model fetcher configured", errdefs.ErrModelNotAvailable)
		}

		meta, blob, err := w.fetcher.FetchModel(ctx, modelID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch model %s: %w", modelID, err)
		}

		if meta.Checksum != "" {
			sum := sha256.Sum256(blob)
			if hex.EncodeToString(sum[:]) != meta.Checksum {
				return nil, fmt.Errorf("%w: model %s blob does not match checksum", errdefs.ErrIntegrityMismatch, modelID)
			}
		}

		predictor, err := w.factory(meta, blob)
		if err != nil {
			return nil, fmt.Errorf("failed to build predictor for %s: %w", modelID, err)
		}

		w.install(&LoadedModel{
			ID:        modelID,
			Type:      meta.Type,
			Version:   meta.Version,
			Metadata:  meta,
			Predictor: predictor,
			LoadedAt:  time.Now(),
		})

		log.WithWorkerID(w.id).Info().
			Str("model_id", modelID).
			Str("version", meta.Version).
			Msg("model loaded")
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// InstallModel places an already-built model directly into the cache,
// bypassing the fetch path. Used by tests and embedded deployments.
func (w *Worker) InstallModel(model *LoadedModel) {
	w.install(model)
}

// UnloadModel evicts a model from the cache and the preloaded set.
func (w *Worker) UnloadModel(modelID string) error {
	if _, ok := w.cache.Get(modelID); !ok {
		return fmt.Errorf("%w: %s is not loaded", errdefs.ErrModelNotAvailable, modelID)
	}
	w.cache.Remove(modelID) // onEvict clears the preloaded set
	log.WithWorkerID(w.id).Info().Str("model_id", modelID).Msg("model unloaded")
	return nil
}

// RunInference executes one request through the pipeline. Fails fast with
// CapacityExceeded when the concurrency ceiling is reached; never queues
// and never retries. Every exit path, success or failure, releases the
// capacity slot after the history record is written.
func (w *Worker) RunInference(ctx context.Context, req *types.InferenceRequest) (*types.InferenceResult, error) {
	if !w.acquire() {
		metrics.CapacityRejections.Inc()
		return nil, fmt.Errorf("%w: worker %s at %d/%d", errdefs.ErrCapacityExceeded, w.id, w.maxConcurrent, w.maxConcurrent)
	}
	defer w.release()

	model, ok := w.cache.Get(req.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: model %s is not preloaded", errdefs.ErrModelNotAvailable, req.ModelID)
	}

	timer := metrics.NewTimer()
	result, err := w.runPipeline(ctx, model, req)
	elapsed := timer.Elapsed()

	rec := types.InferenceRecord{
		ModelID:        req.ModelID,
		ProcessingTime: elapsed,
		Timestamp:      time.Now(),
		Success:        err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
		w.history.Append(rec)
		metrics.InferencesExecuted.WithLabelValues(req.ModelID, "failure").Inc()
		return nil, err
	}

	rec.InferenceID = result.InferenceID
	w.history.Append(rec)
	metrics.InferencesExecuted.WithLabelValues(req.ModelID, "success").Inc()
	metrics.InferenceDuration.WithLabelValues(req.ModelID).Observe(elapsed.Seconds())
	return result, nil
}

// CheckCapacity reports the concurrency budget and preloaded models. When
// modelID is given, the report says whether that model is loaded.
func (w *Worker) CheckCapacity(modelID string) *types.CapacityReport {
	w.loadMu.Lock()
	load := w.currentLoad
	w.loadMu.Unlock()

	report := &types.CapacityReport{
		MaxConcurrent:   w.maxConcurrent,
		CurrentLoad:     load,
		Available:       w.maxConcurrent - load,
		AvailableModels: w.PreloadedModels(),
	}
	if modelID != "" {
		loaded := w.cache.Contains(modelID)
		report.ModelLoaded = &loaded
	}
	return report
}

// Health reports worker status for health probes.
func (w *Worker) Health() *types.WorkerHealth {
	return &types.WorkerHealth{
		Status:        "healthy",
		Capacity:      *w.CheckCapacity(""),
		UptimeSeconds: time.Since(w.startedAt).Seconds(),
	}
}

// PreloadedModels returns the ids the worker will currently serve.
func (w *Worker) PreloadedModels() []string {
	w.preloadMu.Lock()
	defer w.preloadMu.Unlock()

	out := make([]string, 0, len(w.preloaded))
	for id := range w.preloaded {
		out = append(out, id)
	}
	return out
}

// History exposes the rolling inference record ring.
func (w *Worker) History() *History {
	return w.history
}

// CurrentLoad returns the in-flight request count.
func (w *Worker) CurrentLoad() int {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	return w.currentLoad
}

func (w *Worker) acquire() bool {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	if w.currentLoad >= w.maxConcurrent {
		return false
	}
	w.currentLoad++
	return true
}

func (w *Worker) release() {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	if w.currentLoad > 0 {
		w.currentLoad--
	}
}

func (w *Worker) install(model *LoadedModel) {
	w.preloadMu.Lock()
	w.preloaded[model.ID] = struct{}{}
	w.preloadMu.Unlock()
	w.cache.Add(model.ID, model)
	metrics.ModelsLoaded.Set(float64(w.cache.Len()))
}

// onEvict fires for explicit removes and for LRU displacement. Either way
// the model must leave the preloaded set so the worker stops serving it.
func (w *Worker) onEvict(modelID string, _ *LoadedModel) {
	w.preloadMu.Lock()
	delete(w.preloaded, modelID)
	w.preloadMu.Unlock()
	metrics.ModelsLoaded.Set(float64(w.cache.Len()))
}

func modelCapabilities(caps []string) []string {
	var models []string
	for _, c := range caps {
		if !isTag(c) {
			models = append(models, c)
		}
	}
	return models
}

func tagCapabilities(caps []string) []string {
	var tags []string
	for _, c := range caps {
		if isTag(c) {
			tags = append(tags, c[4:])
		}
	}
	return tags
}

// isTag distinguishes feature tags from model ids in the flat capability
// list: tags use the "tag:" prefix in config.
func isTag(c string) bool {
	return len(c) > 4 && c[:4] == "tag:"
}
