package db

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
)

// MergeAll upserts every subkey of partial into the maps stored in the collection.
// Existing subkeys are overwritten, subkeys that are not part of partial are kept and keys with
// no stored map get the partial map as is. The whole call is committed in a single synced batch.
func MergeAll[V any](c *Collection[map[string]V], partial map[string]map[string]V) error {
	if len(partial) == 0 {
		return nil
	}

	c.store.writeLock.Lock()
	defer c.store.writeLock.Unlock()

	batch := c.store.db.NewBatch()
	defer batch.Close()

	if err := stageMerge(batch, c, partial); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("error committing batch: %w", err)
	}
	return nil
}

// MergeAllAndSet is MergeAll that also sets key in other, in the same batch. Either both writes
// are committed or none is. An empty partial still sets key.
func MergeAllAndSet[V any, W any](c *Collection[map[string]V], partial map[string]map[string]V, other *Collection[W], key string, value W) error {
	if c.store != other.store {
		return errors.New("collections must belong to the same store")
	}
	dbKey, err := other.dbKey(key)
	if err != nil {
		return err
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error serializing %s/%s: %w", other.namespace, key, err)
	}

	c.store.writeLock.Lock()
	defer c.store.writeLock.Unlock()

	batch := c.store.db.NewBatch()
	defer batch.Close()

	if err := stageMerge(batch, c, partial); err != nil {
		return err
	}
	if err := batch.Set(dbKey, bytes, nil); err != nil {
		return fmt.Errorf("error adding %s/%s to batch: %w", other.namespace, key, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("error committing batch: %w", err)
	}
	return nil
}

// stageMerge adds the merged maps to batch, the caller holds the write lock
func stageMerge[V any](batch *pebble.Batch, c *Collection[map[string]V], partial map[string]map[string]V) error {
	// keys that only differ by stripped characters share the same entry
	grouped := map[string]map[string]V{}
	for key, entries := range partial {
		dbKey, err := c.dbKey(key)
		if err != nil {
			return err
		}
		if grouped[string(dbKey)] == nil {
			grouped[string(dbKey)] = map[string]V{}
		}
		for subkey, value := range entries {
			grouped[string(dbKey)][subkey] = value
		}
	}

	for dbKey, entries := range grouped {
		merged := map[string]V{}
		if _, err := c.store.getRaw([]byte(dbKey), &merged); err != nil {
			return fmt.Errorf("error getting %s: %w", dbKey, err)
		}
		if merged == nil {
			merged = map[string]V{}
		}
		for subkey, value := range entries {
			merged[subkey] = value
		}

		bytes, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("error serializing %s: %w", dbKey, err)
		}
		if err := batch.Set([]byte(dbKey), bytes, nil); err != nil {
			return fmt.Errorf("error adding %s to batch: %w", dbKey, err)
		}
	}
	return nil
}
