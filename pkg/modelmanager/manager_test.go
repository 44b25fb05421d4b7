package modelmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/modelregistry"
	"github.com/infermesh/infermesh/pkg/modelstore"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func testManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := NewManager(config.ModelManager{
		Port:               8083,
		StoragePath:        dir,
		MaxModelSize:       "1MB",
		ChecksumValidation: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestStoreAndGetModel(t *testing.T) {
	m := testManager(t, t.TempDir())

	data := []byte("model weights")
	meta, err := m.StoreModel("sentiment", data, ModelInfo{
		Type:        "classification",
		Version:     "1.0",
		Description: "sentiment classifier",
	})
	require.NoError(t, err)

	assert.Equal(t, "sentiment", meta.ModelID)
	assert.Equal(t, int64(len(data)), meta.Size)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.Checksum)

	gotMeta, blob, err := m.GetModel("sentiment", "")
	require.NoError(t, err)
	assert.Equal(t, data, blob)
	assert.Equal(t, "1.0", gotMeta.Version)
}

func TestStoreModelValidation(t *testing.T) {
	m := testManager(t, t.TempDir())

	_, err := m.StoreModel("", []byte("x"), ModelInfo{})
	assert.True(t, errors.Is(err, errdefs.ErrInvalidMetadata))

	_, err = m.StoreModel("m", nil, ModelInfo{})
	assert.True(t, errors.Is(err, errdefs.ErrInvalidModelData))
}

func TestStoreDuplicateVersion(t *testing.T) {
	m := testManager(t, t.TempDir())

	_, err := m.StoreModel("m", []byte("v1"), ModelInfo{Version: "1.0"})
	require.NoError(t, err)

	_, err = m.StoreModel("m", []byte("v1 again"), ModelInfo{Version: "1.0"})
	assert.True(t, errors.Is(err, errdefs.ErrModelAlreadyExists))

	// A new version is accepted and becomes current.
	_, err = m.StoreModel("m", []byte("v2"), ModelInfo{Version: "2.0"})
	require.NoError(t, err)

	meta, err := m.GetMetadata("m", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0", meta.Version)
	assert.ElementsMatch(t, []string{"1.0", "2.0"}, m.Versions("m"))
}

func TestSupportedFormatsEnforced(t *testing.T) {
	m, err := NewManager(config.ModelManager{
		StoragePath:      t.TempDir(),
		MaxModelSize:     "1MB",
		SupportedFormats: []string{"onnx"},
	}, nil)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.StoreModel("m", []byte("x"), ModelInfo{Type: "pickle", Version: "1"})
	assert.True(t, errors.Is(err, errdefs.ErrInvalidMetadata))

	_, err = m.StoreModel("m", []byte("x"), ModelInfo{Type: "onnx", Version: "1"})
	assert.NoError(t, err)
}

func TestChecksumValidationRejectsCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, dir)

	meta, err := m.StoreModel("m", []byte("pristine"), ModelInfo{Version: "1"})
	require.NoError(t, err)

	// Corrupt the blob behind the manager's back.
	require.NoError(t, os.WriteFile(filepath.Join(dir, meta.StorageKey), []byte("tampered"), 0o644))

	_, _, err = m.GetModel("m", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrIntegrityMismatch))
}

func TestUpdateModelWithNewBlob(t *testing.T) {
	m := testManager(t, t.TempDir())

	first, err := m.StoreModel("m", []byte("old"), ModelInfo{Version: "1"})
	require.NoError(t, err)

	version := "2"
	updated, err := m.UpdateModel("m", modelregistry.Patch{Version: &version}, []byte("new weights"))
	require.NoError(t, err)

	assert.Equal(t, "2", updated.Version)
	assert.NotEqual(t, first.Checksum, updated.Checksum)
	assert.Equal(t, int64(len("new weights")), updated.Size)

	_, blob, err := m.GetModel("m", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("new weights"), blob)
}

func TestDeleteModelRemovesBlob(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, dir)

	meta, err := m.StoreModel("m", []byte("x"), ModelInfo{Version: "1"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteModel("m", ""))

	_, err = m.GetMetadata("m", "")
	assert.True(t, errors.Is(err, errdefs.ErrModelNotFound))
	_, err = os.Stat(filepath.Join(dir, meta.StorageKey))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteSingleVersionKeepsBlob(t *testing.T) {
	dir := t.TempDir()
	m := testManager(t, dir)

	_, err := m.StoreModel("m", []byte("v1"), ModelInfo{Version: "1"})
	require.NoError(t, err)
	meta, err := m.StoreModel("m", []byte("v2"), ModelInfo{Version: "2"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteModel("m", "1"))

	_, err = m.GetMetadata("m", "")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, meta.StorageKey))
	assert.NoError(t, err)
}

func TestCatalogSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	m := testManager(t, dir)
	stored, err := m.StoreModel("persisted", []byte("weights"), ModelInfo{
		Type: "classification", Version: "1.0",
	})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// A fresh manager over the same directory sees the model.
	reopened, err := NewManager(config.ModelManager{
		StoragePath:        dir,
		MaxModelSize:       "1MB",
		ChecksumValidation: true,
	}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	meta, blob, err := reopened.GetModel("persisted", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), blob)
	assert.Equal(t, stored.Checksum, meta.Checksum)
	assert.True(t, meta.CreatedAt.Equal(stored.CreatedAt))

	stats, _, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalModels)
}

func TestListAndSearch(t *testing.T) {
	m := testManager(t, t.TempDir())

	_, err := m.StoreModel("sentiment-en", []byte("a"), ModelInfo{Type: "classification", Version: "1"})
	require.NoError(t, err)
	_, err = m.StoreModel("forecast", []byte("b"), ModelInfo{Type: "regression", Version: "1"})
	require.NoError(t, err)

	assert.Len(t, m.ListModels("", 0), 2)
	assert.Len(t, m.ListModels("regression", 0), 1)

	found := m.SearchModels(modelregistry.Criteria{Query: "sentiment"})
	require.Len(t, found, 1)
	assert.Equal(t, "sentiment-en", found[0].ModelID)
}

func TestStorageKeyIsContentAddressed(t *testing.T) {
	m := testManager(t, t.TempDir())

	meta, err := m.StoreModel("m", []byte("x"), ModelInfo{Version: "1"})
	require.NoError(t, err)
	assert.Equal(t, modelstore.StorageKeyFor("m"), meta.StorageKey)
}
