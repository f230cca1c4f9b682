package search

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestLoadManifest_Missing(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), ManifestFilename))
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.Version != ManifestVersion {
		t.Errorf("Version = %d, want %d", m.Version, ManifestVersion)
	}
	if len(m.Entities) != 0 {
		t.Errorf("Expected no entities, got %d", len(m.Entities))
	}
}

func TestManifest_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ManifestFilename)
	now := time.Now().UTC().Truncate(time.Second)

	m := NewManifest()
	m.Set("Department", IndexState{Fingerprint: "abc", DocCount: 3, LastRebuild: now})
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should be renamed away")
	}

	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	state, ok := loaded.Get("Department")
	if !ok {
		t.Fatal("Expected Department state")
	}
	if state.Fingerprint != "abc" || state.DocCount != 3 || !state.LastRebuild.Equal(now) {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestLoadManifest_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("Expected error for corrupt manifest")
	}
}

func TestManifest_NeedsRebuild(t *testing.T) {
	m := NewManifest()
	if !m.NeedsRebuild("Department", "abc") {
		t.Error("Unknown entity needs a rebuild")
	}

	m.Set("Department", IndexState{Fingerprint: "abc"})
	if m.NeedsRebuild("Department", "abc") {
		t.Error("Same fingerprint should not need a rebuild")
	}
	if !m.NeedsRebuild("Department", "def") {
		t.Error("Changed fingerprint needs a rebuild")
	}
}

func TestManifest_SetDocCount(t *testing.T) {
	m := NewManifest()
	m.Set("Department", IndexState{Fingerprint: "abc", DocCount: 1})
	m.SetDocCount("Department", 5)

	state, _ := m.Get("Department")
	if state.DocCount != 5 || state.Fingerprint != "abc" {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestManifest_RemoveStale(t *testing.T) {
	m := NewManifest()
	m.Set("Department", IndexState{})
	m.Set("Departments", IndexState{})
	m.Set("Legacy", IndexState{})
	m.Set("Old", IndexState{})

	removed := m.RemoveStale([]string{"Department", "Departments"})
	sort.Strings(removed)
	if len(removed) != 2 || removed[0] != "Legacy" || removed[1] != "Old" {
		t.Errorf("removed = %v", removed)
	}
	if _, ok := m.Get("Legacy"); ok {
		t.Error("Legacy should be gone")
	}
	if _, ok := m.Get("Department"); !ok {
		t.Error("Department should be kept")
	}
}
