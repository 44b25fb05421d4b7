package modelstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/types"
)

const storageSuffix = ".model"

// DefaultMaxModelSize is used when the configured size cap cannot be parsed.
const DefaultMaxModelSize = 1 << 30 // 1 GiB

// Store is content-addressed blob storage for model binaries. The storage
// key is a pure function of the model id, so re-storing the same id
// overwrites deterministically; the registry layer guards against
// unintended overwrites.
type Store struct {
	basePath     string
	maxModelSize int64
}

// NewStore creates the storage directory if needed. maxSize accepts
// human-readable strings ("1GB", "500MB"); unparseable input falls back to
// 1 GiB with a warning rather than failing.
func NewStore(basePath, maxSize string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	limit, err := ParseSize(maxSize)
	if err != nil {
		log.WithComponent("modelstore").Warn().
			Str("max_model_size", maxSize).
			Err(err).
			Msg("unparseable size cap, defaulting to 1GiB")
		limit = DefaultMaxModelSize
	}

	return &Store{basePath: basePath, maxModelSize: limit}, nil
}

// StorageKeyFor returns the on-disk filename for a model id:
// sha256(modelId) + ".model".
func StorageKeyFor(modelID string) string {
	sum := sha256.Sum256([]byte(modelID))
	return hex.EncodeToString(sum[:]) + storageSuffix
}

// Store writes the model bytes under the deterministic storage key. The
// write is atomic (temp file + rename), so a partial blob is never
// observable. Fails with ModelTooLarge when the payload exceeds the cap.
func (s *Store) Store(modelID string, data []byte) (*types.StoreResult, error) {
	if int64(len(data)) > s.maxModelSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds cap of %d", errdefs.ErrModelTooLarge, len(data), s.maxModelSize)
	}

	key := StorageKeyFor(modelID)
	sum := sha256.Sum256(data)

	if err := atomic.WriteFile(s.path(key), bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to write model blob: %w", err)
	}

	return &types.StoreResult{
		StorageKey: key,
		Checksum:   hex.EncodeToString(sum[:]),
		Size:       int64(len(data)),
	}, nil
}

// Fetch reads the blob for a storage key.
func (s *Store) Fetch(storageKey string) ([]byte, error) {
	data, err := os.ReadFile(s.path(storageKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: storage key %s", errdefs.ErrModelNotFound, storageKey)
		}
		return nil, fmt.Errorf("failed to read model blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob for a storage key. Returns false when the key
// did not exist.
func (s *Store) Delete(storageKey string) (bool, error) {
	err := os.Remove(s.path(storageKey))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete model blob: %w", err)
	}
	return true, nil
}

// Verify recomputes the blob's sha256 and compares it to the expected
// checksum.
func (s *Store) Verify(storageKey, expected string) (bool, error) {
	data, err := s.Fetch(storageKey)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == expected, nil
}

// Stats reports file count and total bytes under the storage directory.
func (s *Store) Stats() (*types.StoreStats, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	stats := &types.StoreStats{MaxModelSize: s.maxModelSize}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), storageSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}

// MaxModelSize returns the effective size cap in bytes.
func (s *Store) MaxModelSize() int64 {
	return s.maxModelSize
}

func (s *Store) path(storageKey string) string {
	return filepath.Join(s.basePath, filepath.Base(storageKey))
}
