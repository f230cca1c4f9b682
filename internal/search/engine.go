// Package search mirrors store entities into Bleve indexes and runs
// full-text queries that return entities.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/sha1n/relic-search/internal/config"
	"github.com/sha1n/relic-search/internal/store"
)

// ErrNotIndexed is returned for entity types without a mapping.
var ErrNotIndexed = errors.New("entity type is not indexed")

// analyzers are the analyzer names accepted as the engine default.
var analyzers = map[string]bool{
	simple.Name:     true,
	standard.Name:   true,
	keyword.Name:    true,
	en.AnalyzerName: true,
}

// Engine coordinates the store, the entity mappings and the indexes.
type Engine struct {
	settings *config.SearchSettings
	db       *store.DB
	mappings map[string]*EntityMapping
	names    []string
	indexes  *Indexes
	manifest *Manifest
	lock     *DirLock
	listener *listener
}

// New validates the mappings, registers their entity types with db, opens
// one index per type and subscribes to store changes. Indexes whose mapping
// changed since the last run are rebuilt from the store.
func New(ctx context.Context, db *store.DB, settings *config.SearchSettings, mappings ...*EntityMapping) (*Engine, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if !analyzers[settings.Analyzer] {
		return nil, fmt.Errorf("unsupported analyzer: %q", settings.Analyzer)
	}
	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := NewDirLock(filepath.Join(settings.DataDir, LockFilename))
	if err := lock.Acquire(ctx, settings.LockTimeout); err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}

	manifest, err := LoadManifest(filepath.Join(settings.DataDir, ManifestFilename))
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	e := &Engine{
		settings: settings,
		db:       db,
		mappings: make(map[string]*EntityMapping, len(mappings)),
		indexes:  NewIndexes(settings.DataDir, settings.Analyzer),
		manifest: manifest,
		lock:     lock,
	}

	if err := e.init(ctx, mappings); err != nil {
		_ = e.indexes.Close()
		_ = lock.Release()
		return nil, err
	}

	e.listener = &listener{engine: e}
	db.AddListener(e.listener)
	return e, nil
}

func (e *Engine) init(ctx context.Context, mappings []*EntityMapping) error {
	var stale []string
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := e.mappings[m.Name]; dup {
			return fmt.Errorf("%w: %s is mapped twice", ErrInvalidMapping, m.Name)
		}
		if err := m.configureBridges(); err != nil {
			return err
		}
		if err := e.db.Register(m.Name, m.Factory); err != nil {
			return err
		}
		e.mappings[m.Name] = m
		e.names = append(e.names, m.Name)

		fingerprint, err := m.Fingerprint(e.settings.Analyzer)
		if err != nil {
			return err
		}
		existed := e.indexes.Exists(m.Name)
		if _, err := e.indexes.Open(m); err != nil {
			return err
		}
		if !existed || e.manifest.NeedsRebuild(m.Name, fingerprint) {
			slog.Info("Index mapping changed, rebuilding", "entity", m.Name, "existed", existed)
			stale = append(stale, m.Name)
		}
	}

	for _, name := range e.manifest.RemoveStale(e.names) {
		slog.Info("Removing index of unmapped entity", "entity", name)
		if err := os.RemoveAll(e.indexes.indexPath(name)); err != nil {
			slog.Error("Failed to remove stale index", "entity", name, "error", err)
		}
	}

	if len(stale) > 0 {
		if _, err := e.Rebuild(ctx, stale...); err != nil {
			return err
		}
		return nil
	}
	return e.saveManifest()
}

// EntityNames returns the indexed entity types in registration order.
func (e *Engine) EntityNames() []string {
	names := make([]string, len(e.names))
	copy(names, e.names)
	return names
}

// Mapping returns the mapping of an indexed entity type.
func (e *Engine) Mapping(entity string) (*EntityMapping, error) {
	return e.mapping(entity)
}

// DB returns the store the engine indexes.
func (e *Engine) DB() *store.DB {
	return e.db
}

// Settings returns the engine settings.
func (e *Engine) Settings() *config.SearchSettings {
	return e.settings
}

// DocCount returns the number of indexed documents of an entity type.
func (e *Engine) DocCount(entity string) (uint64, error) {
	if _, err := e.mapping(entity); err != nil {
		return 0, err
	}
	return e.indexes.DocCount(entity)
}

// IndexState returns the manifest entry of an entity type.
func (e *Engine) IndexState(entity string) (IndexState, bool) {
	return e.manifest.Get(entity)
}

func (e *Engine) mapping(entity string) (*EntityMapping, error) {
	m, ok := e.mappings[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, entity)
	}
	return m, nil
}

func (e *Engine) isIndexed(entity string) bool {
	_, ok := e.mappings[entity]
	return ok
}

// purge replaces the index of an entity type with an empty one.
func (e *Engine) purge(entity string) error {
	m, err := e.mapping(entity)
	if err != nil {
		return err
	}
	if _, err := e.indexes.Recreate(m); err != nil {
		return err
	}
	slog.Info("Purged index", "entity", entity)
	return nil
}

// Rebuild drops the indexes of the given entity types (all when none are
// given) and reindexes them from the store. It returns the number of
// documents indexed per type.
func (e *Engine) Rebuild(ctx context.Context, entities ...string) (map[string]int, error) {
	if len(entities) == 0 {
		entities = e.EntityNames()
	}

	counts := make(map[string]int, len(entities))
	for _, name := range entities {
		m, err := e.mapping(name)
		if err != nil {
			return counts, err
		}
		n, err := e.rebuild(ctx, m)
		if err != nil {
			return counts, fmt.Errorf("rebuild %s: %w", name, err)
		}
		counts[name] = n
	}

	if err := e.saveManifest(); err != nil {
		return counts, err
	}
	return counts, nil
}

func (e *Engine) rebuild(ctx context.Context, m *EntityMapping) (int, error) {
	idx, err := e.indexes.Recreate(m)
	if err != nil {
		return 0, err
	}

	batchSize := e.settings.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}

	batch := idx.NewBatch()
	total := 0
	err = e.db.Scan(m.Name, func(ent store.Entity) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := m.BuildDocument(ent)
		if err != nil {
			return fmt.Errorf("failed to build document %s: %w", docID(m.Name, ent.EntityID()), err)
		}
		if err := batch.Index(docID(m.Name, ent.EntityID()), doc); err != nil {
			return err
		}
		if batch.Size() >= batchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("batch index failed: %w", err)
			}
			total += batch.Size()
			batch.Reset()
		}
		return nil
	})
	if err != nil {
		return total, err
	}

	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return total, fmt.Errorf("final batch index failed: %w", err)
		}
		total += batch.Size()
	}

	fingerprint, err := m.Fingerprint(e.settings.Analyzer)
	if err != nil {
		return total, err
	}
	e.manifest.Set(m.Name, IndexState{
		Fingerprint: fingerprint,
		DocCount:    uint64(total),
		LastRebuild: time.Now(),
	})
	slog.Info("Rebuilt index", "entity", m.Name, "documents", total)
	return total, nil
}

func (e *Engine) saveManifest() error {
	return e.manifest.Save(filepath.Join(e.settings.DataDir, ManifestFilename))
}

// Close stops indexing store changes, records index document counts and
// releases all resources. The store stays open.
func (e *Engine) Close() error {
	e.db.RemoveListener(e.listener)

	for _, name := range e.names {
		if n, err := e.indexes.DocCount(name); err == nil {
			e.manifest.SetDocCount(name, n)
		}
	}

	var errs []error
	if err := e.saveManifest(); err != nil {
		errs = append(errs, err)
	}
	if err := e.indexes.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
