package modelregistry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/types"
)

// Registry is the in-memory model catalog. Three indices are kept in step
// under one lock: the primary modelId → metadata map, a secondary
// type → set(modelId) index, and a per-model version set. Removal and type
// changes are atomic across all three.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*types.ModelMetadata
	versions  map[string]map[string]*types.ModelMetadata
	typeIndex map[string]map[string]struct{}
	order     []string
}

// Patch holds the mutable metadata fields for Update. Nil fields are left
// untouched.
type Patch struct {
	Type        *string
	Version     *string
	Description *string
	StorageKey  *string
	Checksum    *string
	Size        *int64
}

// Criteria filters Search results. Zero-valued fields match everything.
type Criteria struct {
	Type string
	// Query is matched as a substring of the model id or description.
	Query string
	Limit int
}

// Stats summarizes catalog contents.
type Stats struct {
	TotalModels   int            `json:"totalModels"`
	TotalVersions int            `json:"totalVersions"`
	ByType        map[string]int `json:"byType"`
}

// NewRegistry creates an empty catalog.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]*types.ModelMetadata),
		versions:  make(map[string]map[string]*types.ModelMetadata),
		typeIndex: make(map[string]map[string]struct{}),
	}
}

// Put inserts or replaces the current metadata for a model and records the
// version snapshot. A repeated Put for an existing model id fails with
// ModelAlreadyExists unless the version differs.
func (r *Registry) Put(meta *types.ModelMetadata) error {
	if meta == nil || meta.ModelID == "" {
		return fmt.Errorf("%w: missing model id", errdefs.ErrInvalidMetadata)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[meta.ModelID]; ok {
		if existing.Version == meta.Version {
			return fmt.Errorf("%w: %s version %s", errdefs.ErrModelAlreadyExists, meta.ModelID, meta.Version)
		}
		r.removeFromTypeIndex(existing.Type, meta.ModelID)
	} else {
		r.order = append(r.order, meta.ModelID)
	}

	now := time.Now()
	stored := *meta
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = r.monotonicUpdate(meta.ModelID, now)

	r.entries[meta.ModelID] = &stored

	if r.versions[meta.ModelID] == nil {
		r.versions[meta.ModelID] = make(map[string]*types.ModelMetadata)
	}
	snapshot := stored
	r.versions[meta.ModelID][stored.Version] = &snapshot

	r.addToTypeIndex(stored.Type, meta.ModelID)
	return nil
}

// Get returns the current metadata for a model, or the snapshot for a
// specific version when one is given.
func (r *Registry) Get(modelID, version string) (*types.ModelMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version != "" {
		if snap, ok := r.versions[modelID][version]; ok {
			copied := *snap
			return &copied, nil
		}
		return nil, fmt.Errorf("%w: %s version %s", errdefs.ErrModelNotFound, modelID, version)
	}

	entry, ok := r.entries[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrModelNotFound, modelID)
	}
	copied := *entry
	return &copied, nil
}

// Update applies a patch to the current metadata. A type change migrates
// the type index atomically with the entry update. UpdatedAt strictly
// increases on every successful update.
func (r *Registry) Update(modelID string, patch Patch) (*types.ModelMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrModelNotFound, modelID)
	}

	if patch.Type != nil && *patch.Type != entry.Type {
		r.removeFromTypeIndex(entry.Type, modelID)
		entry.Type = *patch.Type
		r.addToTypeIndex(entry.Type, modelID)
	}
	if patch.Version != nil {
		entry.Version = *patch.Version
	}
	if patch.Description != nil {
		entry.Description = *patch.Description
	}
	if patch.StorageKey != nil {
		entry.StorageKey = *patch.StorageKey
	}
	if patch.Checksum != nil {
		entry.Checksum = *patch.Checksum
	}
	if patch.Size != nil {
		entry.Size = *patch.Size
	}

	entry.UpdatedAt = r.monotonicUpdate(modelID, time.Now())

	if r.versions[modelID] == nil {
		r.versions[modelID] = make(map[string]*types.ModelMetadata)
	}
	snapshot := *entry
	r.versions[modelID][entry.Version] = &snapshot

	copied := *entry
	return &copied, nil
}

// Delete removes a model, or a single version of it when one is given.
// Deleting the last remaining version removes the model entirely.
func (r *Registry) Delete(modelID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[modelID]
	if !ok {
		return fmt.Errorf("%w: %s", errdefs.ErrModelNotFound, modelID)
	}

	if version != "" {
		if _, ok := r.versions[modelID][version]; !ok {
			return fmt.Errorf("%w: %s version %s", errdefs.ErrModelNotFound, modelID, version)
		}
		delete(r.versions[modelID], version)
		if len(r.versions[modelID]) > 0 {
			return nil
		}
	}

	delete(r.entries, modelID)
	delete(r.versions, modelID)
	r.removeFromTypeIndex(entry.Type, modelID)
	r.removeFromOrder(modelID)
	return nil
}

// List returns current entries in insertion order, optionally filtered by
// type and capped by limit. Ordering is stable within a process lifetime
// only.
func (r *Registry) List(modelType string, limit int) []*types.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.ModelMetadata
	for _, id := range r.order {
		entry, ok := r.entries[id]
		if !ok {
			continue
		}
		if modelType != "" && entry.Type != modelType {
			continue
		}
		copied := *entry
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Search returns entries matching the criteria, in insertion order.
func (r *Registry) Search(c Criteria) []*types.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := strings.ToLower(c.Query)
	var out []*types.ModelMetadata
	for _, id := range r.order {
		entry, ok := r.entries[id]
		if !ok {
			continue
		}
		if c.Type != "" && entry.Type != c.Type {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(entry.ModelID), query) &&
			!strings.Contains(strings.ToLower(entry.Description), query) {
			continue
		}
		copied := *entry
		out = append(out, &copied)
		if c.Limit > 0 && len(out) >= c.Limit {
			break
		}
	}
	return out
}

// Versions returns the known version set for a model.
func (r *Registry) Versions(modelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for v := range r.versions[modelID] {
		out = append(out, v)
	}
	return out
}

// Restore installs persisted metadata verbatim, keeping the recorded
// timestamps. Used when rebuilding the catalog from durable storage at
// boot; snapshots are the model's version history.
func (r *Registry) Restore(current *types.ModelMetadata, snapshots []*types.ModelMetadata) error {
	if current == nil || current.ModelID == "" {
		return fmt.Errorf("%w: missing model id", errdefs.ErrInvalidMetadata)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[current.ModelID]; !ok {
		r.order = append(r.order, current.ModelID)
	}

	stored := *current
	r.entries[current.ModelID] = &stored

	if r.versions[current.ModelID] == nil {
		r.versions[current.ModelID] = make(map[string]*types.ModelMetadata)
	}
	for _, snap := range snapshots {
		copied := *snap
		r.versions[current.ModelID][snap.Version] = &copied
	}
	currentSnap := stored
	r.versions[current.ModelID][stored.Version] = &currentSnap

	r.addToTypeIndex(stored.Type, current.ModelID)
	return nil
}

// Stats reports catalog totals.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalModels: len(r.entries),
		ByType:      make(map[string]int),
	}
	for t, ids := range r.typeIndex {
		stats.ByType[t] = len(ids)
	}
	for _, vs := range r.versions {
		stats.TotalVersions += len(vs)
	}
	return stats
}

// callers hold r.mu

func (r *Registry) addToTypeIndex(modelType, modelID string) {
	if modelType == "" {
		return
	}
	if r.typeIndex[modelType] == nil {
		r.typeIndex[modelType] = make(map[string]struct{})
	}
	r.typeIndex[modelType][modelID] = struct{}{}
}

func (r *Registry) removeFromTypeIndex(modelType, modelID string) {
	if ids, ok := r.typeIndex[modelType]; ok {
		delete(ids, modelID)
		if len(ids) == 0 {
			delete(r.typeIndex, modelType)
		}
	}
}

func (r *Registry) removeFromOrder(modelID string) {
	for i, id := range r.order {
		if id == modelID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Registry) monotonicUpdate(modelID string, now time.Time) time.Time {
	if prev, ok := r.entries[modelID]; ok && !now.After(prev.UpdatedAt) {
		return prev.UpdatedAt.Add(time.Nanosecond)
	}
	return now
}
