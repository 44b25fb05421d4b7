package modelmanager

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/infermesh/infermesh/pkg/modelregistry"
	"github.com/infermesh/infermesh/pkg/types"
)

var modelsBucket = []byte("models")

// modelRecord is the durable form of one model: the current metadata plus
// its version snapshots.
type modelRecord struct {
	Current  *types.ModelMetadata   `json:"current"`
	Versions []*types.ModelMetadata `json:"versions"`
}

// metaDB persists the catalog in bolt so the registry survives restarts.
type metaDB struct {
	db *bolt.DB
}

func openMetaDB(path string) (*metaDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &metaDB{db: db}, nil
}

func (d *metaDB) close() error {
	return d.db.Close()
}

func (d *metaDB) save(current *types.ModelMetadata, versions []*types.ModelMetadata) error {
	payload, err := json.Marshal(modelRecord{Current: current, Versions: versions})
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).Put([]byte(current.ModelID), payload)
	})
}

func (d *metaDB) delete(modelID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).Delete([]byte(modelID))
	})
}

// restore replays every stored record into the registry, keeping the
// persisted timestamps. Returns the number of models restored.
func (d *metaDB) restore(registry *modelregistry.Registry) (int, error) {
	var count int
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).ForEach(func(k, v []byte) error {
			var rec modelRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt metadata record for %s: %w", k, err)
			}
			if err := registry.Restore(rec.Current, rec.Versions); err != nil {
				return err
			}
			count++
			return nil
		})
	})
	return count, err
}
