package search

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename is the default manifest filename
	ManifestFilename = "manifest.json"
)

// Manifest records the state of every entity index.
type Manifest struct {
	Version  int                   `json:"version"`
	Entities map[string]IndexState `json:"entities"`
	mu       sync.RWMutex          `json:"-"`
}

// IndexState is the recorded state of one entity index.
type IndexState struct {
	Fingerprint string    `json:"fingerprint"`
	DocCount    uint64    `json:"doc_count"`
	LastRebuild time.Time `json:"last_rebuild"`
}

// NewManifest creates a new empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version:  ManifestVersion,
		Entities: make(map[string]IndexState),
	}
}

// LoadManifest reads a manifest from disk, or creates a new one if it doesn't exist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if manifest.Entities == nil {
		manifest.Entities = make(map[string]IndexState)
	}

	return &manifest, nil
}

// Save writes the manifest to disk atomically.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}

	return nil
}

// Get returns the state recorded for an entity index.
func (m *Manifest) Get(entity string) (IndexState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.Entities[entity]
	return state, ok
}

// Set records the state of an entity index.
func (m *Manifest) Set(entity string, state IndexState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entities[entity] = state
}

// SetDocCount updates only the document count of an entity index.
func (m *Manifest) SetDocCount(entity string, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.Entities[entity]
	state.DocCount = count
	m.Entities[entity] = state
}

// NeedsRebuild reports whether the recorded fingerprint differs from fingerprint.
func (m *Manifest) NeedsRebuild(entity, fingerprint string) bool {
	state, ok := m.Get(entity)
	return !ok || state.Fingerprint != fingerprint
}

// RemoveStale drops entities that are not in keep and returns their names.
func (m *Manifest) RemoveStale(keep []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	expected := make(map[string]bool, len(keep))
	for _, name := range keep {
		expected[name] = true
	}

	var removed []string
	for name := range m.Entities {
		if !expected[name] {
			removed = append(removed, name)
		}
	}
	for _, name := range removed {
		delete(m.Entities, name)
	}
	return removed
}
