// Package store persists entities in a bbolt database, one bucket per entity
// type, and notifies listeners about changes made inside transactions.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrUnknownEntity is returned for entity names that were never registered.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrTransient is returned when deleting an entity that was never saved.
	ErrTransient = errors.New("entity has not been saved")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("transaction already completed")

	// ErrTxActive is returned when beginning a transaction while one is open.
	ErrTxActive = errors.New("transaction already active")

	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrAfterCommit wraps failures that happened after the data was committed.
	ErrAfterCommit = errors.New("post-commit synchronization failed")
)

// DefaultOpenTimeout bounds how long Open waits for the database file lock.
const DefaultOpenTimeout = 5 * time.Second

// Entity is a persistent object.
type Entity interface {
	// EntityName is the registered type name, e.g. "Department".
	EntityName() string
	// EntityID is zero until the entity is first saved.
	EntityID() uint64
	SetEntityID(id uint64)
}

// Factory creates an empty entity of one type.
type Factory func() Entity

// EventListener observes entity changes inside a transaction.
type EventListener interface {
	OnSave(tx *Transaction, e Entity) error
	OnDelete(tx *Transaction, e Entity) error
}

// Options configures Open.
type Options struct {
	Timeout time.Duration
}

// DB is an entity database.
type DB struct {
	bolt      *bolt.DB
	path      string
	mu        sync.RWMutex
	factories map[string]Factory
	listeners []EventListener
}

// Open opens or creates the database at path.
func Open(path string, opts Options) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	b, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &DB{
		bolt:      b,
		path:      path,
		factories: make(map[string]Factory),
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Register makes an entity type known to the database and creates its bucket.
func (db *DB) Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("entity name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("entity %s: factory cannot be nil", name)
	}

	err := db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket for %s: %w", name, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.factories[name] = factory
	return nil
}

// AddListener registers a listener for entity changes.
func (db *DB) AddListener(l EventListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners = append(db.listeners, l)
}

// RemoveListener unregisters a listener added with AddListener.
func (db *DB) RemoveListener(l EventListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners = slices.DeleteFunc(db.listeners, func(x EventListener) bool {
		return x == l
	})
}

// EntityNames returns the registered entity names, sorted.
func (db *DB) EntityNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.factories))
	for name := range db.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name is a registered entity type.
func (db *DB) IsRegistered(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.factories[name]
	return ok
}

// New creates an empty entity of the named type.
func (db *DB) New(name string) (Entity, error) {
	db.mu.RLock()
	factory, ok := db.factories[name]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return factory(), nil
}

// Scan calls fn for every stored entity of the named type in id order,
// inside a read-only transaction.
func (db *DB) Scan(name string, fn func(Entity) error) error {
	if !db.IsRegistered(name) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return db.bolt.View(func(tx *bolt.Tx) error {
		return db.scan(tx, name, fn)
	})
}

// Count returns the number of stored entities of the named type.
func (db *DB) Count(name string) (int, error) {
	if !db.IsRegistered(name) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	var n int
	err := db.bolt.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(name)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.bolt.Close()
}

func (db *DB) snapshotListeners() []EventListener {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]EventListener, len(db.listeners))
	copy(out, db.listeners)
	return out
}

func (db *DB) get(tx *bolt.Tx, name string, id uint64) (Entity, error) {
	bucket := tx.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	data := bucket.Get(idKey(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, name, id)
	}
	return db.decode(name, id, data)
}

func (db *DB) scan(tx *bolt.Tx, name string, fn func(Entity) error) error {
	bucket := tx.Bucket([]byte(name))
	if bucket == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return bucket.ForEach(func(k, v []byte) error {
		e, err := db.decode(name, binary.BigEndian.Uint64(k), v)
		if err != nil {
			return err
		}
		return fn(e)
	})
}

func (db *DB) decode(name string, id uint64, data []byte) (Entity, error) {
	e, err := db.New(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%d: %w", name, id, err)
	}
	e.SetEntityID(id)
	return e, nil
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
