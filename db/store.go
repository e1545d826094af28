package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
)

const (
	// Separates a namespace from the key inside it
	namespaceSeparator = ":"

	// Namespaces used by the node
	DepositEventsNamespace  = "deposits.depositEvents"
	DepositCursorNamespace  = "deposits.cursor"
	CurrentMetricsNamespace = "metrics.current"
)

var (
	ErrEmptyKey = errors.New("key to access the db must be defined")
)

// Store is a durable key-value store split in namespaces. Every write is synced to disk before
// the call returns.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger

	// serializes read-modify-write cycles (Set, Del and MergeAll)
	writeLock sync.Mutex
}

// Open connects to the database at dbPath, creating it (and its parent directories) if needed
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	logger = logger.With("module", "db")

	_, err := os.Stat(dbPath)
	switch {
	case err == nil:
		logger.Info("connecting to existing db", slog.String("path", dbPath))
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("creating new db", slog.String("path", dbPath))
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("error creating db directory [%s]: %w", dir, err)
			}
		}
	default:
		return nil, fmt.Errorf("error checking status of db [%s]: %w", dbPath, err)
	}

	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("error opening pebble database: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Close the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("error closing pebble database: %w", err)
	}
	return nil
}

// formatKey strips the characters used as separators. An empty key is a programming error.
func formatKey(key string) (string, error) {
	key = strings.ReplaceAll(key, ".", "")
	key = strings.ReplaceAll(key, namespaceSeparator, "")
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}

// Collection is a typed view over a single namespace of the store
type Collection[T any] struct {
	store     *Store
	namespace string
	prefix    []byte
}

func NewCollection[T any](store *Store, namespace string) *Collection[T] {
	return &Collection[T]{
		store:     store,
		namespace: namespace,
		prefix:    []byte(namespace + namespaceSeparator),
	}
}

func (c *Collection[T]) dbKey(key string) ([]byte, error) {
	formatted, err := formatKey(key)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, c.prefix...), formatted...), nil
}

// Get returns the value stored at key. The bool is false if nothing is stored there.
func (c *Collection[T]) Get(key string) (T, bool, error) {
	var value T
	dbKey, err := c.dbKey(key)
	if err != nil {
		return value, false, err
	}

	found, err := c.store.getRaw(dbKey, &value)
	if err != nil {
		return value, false, fmt.Errorf("error getting %s/%s: %w", c.namespace, key, err)
	}
	return value, found, nil
}

// Set overwrites the value stored at key
func (c *Collection[T]) Set(key string, value T) error {
	dbKey, err := c.dbKey(key)
	if err != nil {
		return err
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error serializing %s/%s: %w", c.namespace, key, err)
	}

	c.store.writeLock.Lock()
	defer c.store.writeLock.Unlock()
	if err := c.store.db.Set(dbKey, bytes, pebble.Sync); err != nil {
		return fmt.Errorf("error writing %s/%s: %w", c.namespace, key, err)
	}
	return nil
}

// Del removes the value stored at key, it is not an error if there is none
func (c *Collection[T]) Del(key string) error {
	dbKey, err := c.dbKey(key)
	if err != nil {
		return err
	}

	c.store.writeLock.Lock()
	defer c.store.writeLock.Unlock()
	if err := c.store.db.Delete(dbKey, pebble.Sync); err != nil {
		return fmt.Errorf("error deleting %s/%s: %w", c.namespace, key, err)
	}
	return nil
}

// GetAll returns every value of the namespace, ordered by key
func (c *Collection[T]) GetAll() ([]T, error) {
	values := []T{}
	err := c.iterate(func(_ string, raw []byte) error {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return err
		}
		values = append(values, value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Keys returns every key of the namespace, ordered
func (c *Collection[T]) Keys() ([]string, error) {
	keys := []string{}
	err := c.iterate(func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *Collection[T]) iterate(fn func(key string, raw []byte) error) error {
	iter, err := c.store.db.NewIter(&pebble.IterOptions{
		LowerBound: c.prefix,
		UpperBound: prefixUpperBound(c.prefix),
	})
	if err != nil {
		return fmt.Errorf("error creating iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := strings.TrimPrefix(string(iter.Key()), string(c.prefix))
		if err := fn(key, iter.Value()); err != nil {
			return fmt.Errorf("error reading %s/%s: %w", c.namespace, key, err)
		}
	}
	return iter.Error()
}

func (s *Store) getRaw(key []byte, out any) (bool, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(value, out); err != nil {
		return false, fmt.Errorf("error deserializing value: %w", err)
	}
	return true, nil
}

// the smallest key that is greater than every key starting with prefix
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
