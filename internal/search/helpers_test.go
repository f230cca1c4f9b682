package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sha1n/relic-search/internal/bridge"
	"github.com/sha1n/relic-search/internal/config"
	"github.com/sha1n/relic-search/internal/store"
)

const officeEntity = "Office"

type office struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	City  string `json:"city"`
	Desks int    `json:"desks"`
}

func (o *office) EntityName() string    { return officeEntity }
func (o *office) EntityID() uint64      { return o.ID }
func (o *office) SetEntityID(id uint64) { o.ID = id }

// location writes "<name> <city>". A city of "fail" makes it return an error.
type location struct {
	calls int
}

var errBadCity = errors.New("bad city")

func (l *location) Set(name string, entity any, doc *bridge.Document) error {
	l.calls++
	o := entity.(*office)
	if o.City == "fail" {
		return errBadCity
	}
	return doc.Add(name, strings.TrimSpace(o.Name+" "+o.City))
}

func officeMapping() *EntityMapping {
	return &EntityMapping{
		Name:    officeEntity,
		Factory: func() store.Entity { return &office{} },
		Properties: []PropertyMapping{
			Property("name", Text, func(o *office) any { return o.Name }),
			Property("city", Keyword, func(o *office) any { return o.City }),
			Property("desks", Numeric, func(o *office) any { return o.Desks }),
		},
		ClassBridges: []ClassBridgeMapping{
			{Name: "location", Bridge: &location{}, Store: true},
		},
	}
}

func testSettings(dir string) *config.SearchSettings {
	return &config.SearchSettings{
		DataDir:     dir,
		Analyzer:    config.AnalyzerSimple,
		MaxResults:  config.DefaultMaxResults,
		BatchSize:   2,
		LockTimeout: 100 * time.Millisecond,
	}
}

func openTestStore(t *testing.T, dir string) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(dir, "store.db"), store.Options{})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	return db
}

// newTestEngine opens a store and an office engine in a fresh directory and
// closes both when the test ends.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	db := openTestStore(t, dir)

	e, err := New(context.Background(), db, testSettings(dir), officeMapping())
	if err != nil {
		_ = db.Close()
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		_ = db.Close()
	})
	return e
}

func saveAll(t *testing.T, s *store.Session, entities ...store.Entity) {
	t.Helper()
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for _, e := range entities {
		if err := tx.Save(e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func docCount(t *testing.T, e *Engine) uint64 {
	t.Helper()
	n, err := e.DocCount(officeEntity)
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	return n
}
