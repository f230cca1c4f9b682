package search

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// IndexSuffix is the suffix for index directories
const IndexSuffix = ".bleve"

// ErrIndexNotOpen is returned for entity types without an open index.
var ErrIndexNotOpen = errors.New("index not open")

// Indexes owns one Bleve index per entity type. Indexes stay open for the
// lifetime of the engine.
type Indexes struct {
	baseDir  string
	analyzer string
	mu       sync.RWMutex
	open     map[string]bleve.Index
}

// NewIndexes creates an index set rooted at baseDir.
func NewIndexes(baseDir, analyzer string) *Indexes {
	return &Indexes{
		baseDir:  baseDir,
		analyzer: analyzer,
		open:     make(map[string]bleve.Index),
	}
}

// indexPath returns the path to the index of an entity type.
func (i *Indexes) indexPath(entity string) string {
	return filepath.Join(i.baseDir, "indexes", entity+IndexSuffix)
}

// Exists checks if an index exists on disk for the entity type.
func (i *Indexes) Exists(entity string) bool {
	_, err := os.Stat(i.indexPath(entity))
	return err == nil
}

// Open opens the index of m, creating it if needed.
func (i *Indexes) Open(m *EntityMapping) (bleve.Index, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if idx, ok := i.open[m.Name]; ok {
		return idx, nil
	}

	idx, err := i.openOrCreate(m)
	if err != nil {
		return nil, err
	}
	i.open[m.Name] = idx
	return idx, nil
}

func (i *Indexes) openOrCreate(m *EntityMapping) (bleve.Index, error) {
	indexPath := i.indexPath(m.Name)

	// Try to open existing index
	index, err := bleve.Open(indexPath)
	if err == nil {
		return index, nil
	}

	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create indexes directory: %w", err)
	}

	index, err = bleve.New(indexPath, m.IndexMapping(i.analyzer))
	if err != nil {
		return nil, fmt.Errorf("failed to create index for %s: %w", m.Name, err)
	}
	return index, nil
}

// Recreate drops the index of m and creates an empty one.
func (i *Indexes) Recreate(m *EntityMapping) (bleve.Index, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if idx, ok := i.open[m.Name]; ok {
		if err := idx.Close(); err != nil {
			return nil, fmt.Errorf("failed to close index for %s: %w", m.Name, err)
		}
		delete(i.open, m.Name)
	}

	if err := os.RemoveAll(i.indexPath(m.Name)); err != nil {
		return nil, fmt.Errorf("failed to remove index for %s: %w", m.Name, err)
	}

	idx, err := i.openOrCreate(m)
	if err != nil {
		return nil, err
	}
	i.open[m.Name] = idx
	return idx, nil
}

// Get returns the open index of an entity type.
func (i *Indexes) Get(entity string) (bleve.Index, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	idx, ok := i.open[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotOpen, entity)
	}
	return idx, nil
}

// Names returns the entity types with an open index, sorted.
func (i *Indexes) Names() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	names := make([]string, 0, len(i.open))
	for name := range i.open {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Alias creates an IndexAlias over the named entity types, or over every
// open index when no names are given. Closing the alias leaves the
// underlying indexes open.
func (i *Indexes) Alias(entities ...string) (bleve.IndexAlias, error) {
	if len(entities) == 0 {
		entities = i.Names()
	}

	indexes := make([]bleve.Index, 0, len(entities))
	for _, name := range entities {
		idx, err := i.Get(name)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}

	if len(indexes) == 0 {
		return nil, fmt.Errorf("no indexes to combine")
	}

	return bleve.NewIndexAlias(indexes...), nil
}

// DocCount returns the number of documents in the index of an entity type.
func (i *Indexes) DocCount(entity string) (uint64, error) {
	idx, err := i.Get(entity)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

// Close closes every open index.
func (i *Indexes) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for name, idx := range i.open {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index for %s: %w", name, err))
		}
		delete(i.open, name)
	}
	return errors.Join(errs...)
}
