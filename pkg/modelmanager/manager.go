package modelmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/events"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/modelregistry"
	"github.com/infermesh/infermesh/pkg/modelstore"
	"github.com/infermesh/infermesh/pkg/types"
)

// ModelInfo carries the caller-supplied metadata for a model upload.
type ModelInfo struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Manager owns the model catalog and its blobs. Metadata lives in the
// in-memory registry backed by a bolt database, blobs in the
// content-addressed file store. The registry is rebuilt from bolt at boot.
type Manager struct {
	store    *modelstore.Store
	registry *modelregistry.Registry
	db       *metaDB
	broker   *events.Broker

	checksumValidation bool
	supportedFormats   map[string]struct{}
}

// NewManager opens the blob store and the metadata database under
// cfg.StoragePath and rebuilds the catalog. The broker may be nil.
func NewManager(cfg config.ModelManager, broker *events.Broker) (*Manager, error) {
	store, err := modelstore.NewStore(cfg.StoragePath, cfg.MaxModelSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}

	db, err := openMetaDB(filepath.Join(cfg.StoragePath, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	m := &Manager{
		store:              store,
		registry:           modelregistry.NewRegistry(),
		db:                 db,
		broker:             broker,
		checksumValidation: cfg.ChecksumValidation,
	}
	if len(cfg.SupportedFormats) > 0 {
		m.supportedFormats = make(map[string]struct{}, len(cfg.SupportedFormats))
		for _, f := range cfg.SupportedFormats {
			m.supportedFormats[f] = struct{}{}
		}
	}

	restored, err := m.db.restore(m.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to restore model catalog: %w", err)
	}
	if restored > 0 {
		log.WithComponent("model-manager").Info().
			Int("models", restored).
			Msg("model catalog restored")
	}

	m.updateGauges()
	return m, nil
}

// Close releases the metadata database.
func (m *Manager) Close() error {
	return m.db.close()
}

// StoreModel writes the blob and registers the metadata. A repeated store
// for an existing model id fails unless it carries a new version.
func (m *Manager) StoreModel(modelID string, data []byte, info ModelInfo) (*types.ModelMetadata, error) {
	if modelID == "" {
		return nil, fmt.Errorf("%w: model id is required", errdefs.ErrInvalidMetadata)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty model payload", errdefs.ErrInvalidModelData)
	}
	if m.supportedFormats != nil {
		if _, ok := m.supportedFormats[info.Type]; !ok {
			return nil, fmt.Errorf("%w: unsupported model type %q", errdefs.ErrInvalidMetadata, info.Type)
		}
	}

	if existing, err := m.registry.Get(modelID, ""); err == nil && existing.Version == info.Version {
		return nil, fmt.Errorf("%w: %s version %s", errdefs.ErrModelAlreadyExists, modelID, info.Version)
	}

	stored, err := m.store.Store(modelID, data)
	if err != nil {
		return nil, err
	}

	meta := &types.ModelMetadata{
		ModelID:     modelID,
		Type:        info.Type,
		Version:     info.Version,
		Description: info.Description,
		StorageKey:  stored.StorageKey,
		Checksum:    stored.Checksum,
		Size:        stored.Size,
	}
	if err := m.registry.Put(meta); err != nil {
		return nil, err
	}

	current, err := m.registry.Get(modelID, "")
	if err != nil {
		return nil, err
	}
	if err := m.db.save(current, m.snapshots(modelID)); err != nil {
		return nil, fmt.Errorf("failed to persist metadata for %s: %w", modelID, err)
	}

	m.updateGauges()
	m.publish(events.EventModelStored, fmt.Sprintf("model %s version %s stored", modelID, info.Version), modelID)
	log.WithModelID(modelID).Info().
		Str("version", info.Version).
		Int64("size", stored.Size).
		Msg("model stored")
	return current, nil
}

// GetModel returns the metadata and the blob for a model. With checksum
// validation enabled a corrupted blob is rejected rather than served.
func (m *Manager) GetModel(modelID, version string) (*types.ModelMetadata, []byte, error) {
	meta, err := m.registry.Get(modelID, version)
	if err != nil {
		return nil, nil, err
	}

	blob, err := m.store.Fetch(meta.StorageKey)
	if err != nil {
		return nil, nil, err
	}

	if m.checksumValidation && meta.Checksum != "" {
		sum := sha256.Sum256(blob)
		if hex.EncodeToString(sum[:]) != meta.Checksum {
			return nil, nil, fmt.Errorf("%w: stored blob for %s does not match checksum", errdefs.ErrIntegrityMismatch, modelID)
		}
	}
	return meta, blob, nil
}

// GetMetadata returns metadata without touching the blob.
func (m *Manager) GetMetadata(modelID, version string) (*types.ModelMetadata, error) {
	return m.registry.Get(modelID, version)
}

// UpdateModel patches metadata and optionally replaces the blob. A new
// blob refreshes the storage key, checksum, and size in the same update.
func (m *Manager) UpdateModel(modelID string, patch modelregistry.Patch, data []byte) (*types.ModelMetadata, error) {
	if len(data) > 0 {
		stored, err := m.store.Store(modelID, data)
		if err != nil {
			return nil, err
		}
		patch.StorageKey = &stored.StorageKey
		patch.Checksum = &stored.Checksum
		patch.Size = &stored.Size
	}

	updated, err := m.registry.Update(modelID, patch)
	if err != nil {
		return nil, err
	}
	if err := m.db.save(updated, m.snapshots(modelID)); err != nil {
		return nil, fmt.Errorf("failed to persist metadata for %s: %w", modelID, err)
	}

	m.updateGauges()
	m.publish(events.EventModelUpdated, fmt.Sprintf("model %s updated", modelID), modelID)
	return updated, nil
}

// DeleteModel removes a model or one of its versions. The blob is deleted
// only when no version remains.
func (m *Manager) DeleteModel(modelID, version string) error {
	meta, err := m.registry.Get(modelID, "")
	if err != nil {
		return err
	}

	if err := m.registry.Delete(modelID, version); err != nil {
		return err
	}

	if _, err := m.registry.Get(modelID, ""); err != nil {
		// Last version gone; drop the blob and the durable record.
		if _, delErr := m.store.Delete(meta.StorageKey); delErr != nil {
			log.WithModelID(modelID).Warn().Err(delErr).Msg("failed to delete model blob")
		}
		if dbErr := m.db.delete(modelID); dbErr != nil {
			return fmt.Errorf("failed to delete metadata for %s: %w", modelID, dbErr)
		}
	} else {
		current, _ := m.registry.Get(modelID, "")
		if dbErr := m.db.save(current, m.snapshots(modelID)); dbErr != nil {
			return fmt.Errorf("failed to persist metadata for %s: %w", modelID, dbErr)
		}
	}

	m.updateGauges()
	m.publish(events.EventModelDeleted, fmt.Sprintf("model %s deleted", modelID), modelID)
	log.WithModelID(modelID).Info().Str("version", version).Msg("model deleted")
	return nil
}

// ListModels returns current entries, optionally filtered by type.
func (m *Manager) ListModels(modelType string, limit int) []*types.ModelMetadata {
	return m.registry.List(modelType, limit)
}

// SearchModels filters the catalog by type and substring query.
func (m *Manager) SearchModels(c modelregistry.Criteria) []*types.ModelMetadata {
	return m.registry.Search(c)
}

// Versions lists the known versions of a model.
func (m *Manager) Versions(modelID string) []string {
	return m.registry.Versions(modelID)
}

// Stats combines catalog and storage totals.
func (m *Manager) Stats() (modelregistry.Stats, *types.StoreStats, error) {
	storeStats, err := m.store.Stats()
	if err != nil {
		return modelregistry.Stats{}, nil, err
	}
	return m.registry.Stats(), storeStats, nil
}

func (m *Manager) snapshots(modelID string) []*types.ModelMetadata {
	var out []*types.ModelMetadata
	for _, v := range m.registry.Versions(modelID) {
		if snap, err := m.registry.Get(modelID, v); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

func (m *Manager) updateGauges() {
	stats := m.registry.Stats()
	metrics.ModelsStored.Set(float64(stats.TotalModels))
	if storeStats, err := m.store.Stats(); err == nil {
		metrics.ModelStoreBytes.Set(float64(storeStats.TotalBytes))
	}
}

func (m *Manager) publish(eventType events.EventType, message, modelID string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"modelId": modelID},
	})
}
