package domain

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sha1n/relic-search/internal/store"
	"gopkg.in/yaml.v3"
)

// ErrEmptyFixtures is returned when a fixture file holds no entities.
var ErrEmptyFixtures = errors.New("fixture file contains no entities")

// Fixtures is the content of a fixture file.
//
//	department:
//	  - branch: Layton
//	    branch_head: Terry Poperszky
//	    max_employees: 20
//	    network: 2B
//	departments:
//	  - branch: St. George
//	    manufacturer: C
type Fixtures struct {
	Department  []*Department  `yaml:"department"`
	Departments []*Departments `yaml:"departments"`
}

// Entities returns every fixture in file order, Department first.
func (f *Fixtures) Entities() []store.Entity {
	entities := make([]store.Entity, 0, len(f.Department)+len(f.Departments))
	for _, d := range f.Department {
		entities = append(entities, d)
	}
	for _, d := range f.Departments {
		entities = append(entities, d)
	}
	return entities
}

// LoadFixtures decodes a YAML fixture document.
func LoadFixtures(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixtures
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFixtures
		}
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	for i, d := range f.Department {
		if d == nil {
			return nil, fmt.Errorf("failed to parse fixtures: department[%d] is empty", i)
		}
	}
	for i, d := range f.Departments {
		if d == nil {
			return nil, fmt.Errorf("failed to parse fixtures: departments[%d] is empty", i)
		}
	}
	if len(f.Department)+len(f.Departments) == 0 {
		return nil, ErrEmptyFixtures
	}
	return &f, nil
}

// Import saves every fixture in a single transaction and returns the number
// of entities saved. Nothing is saved if any entity fails.
func Import(s *store.Session, f *Fixtures) (int, error) {
	tx, err := s.Begin()
	if err != nil {
		return 0, err
	}

	entities := f.Entities()
	for _, e := range entities {
		if err := tx.Save(e); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to save %s: %w", e.EntityName(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, store.ErrAfterCommit) {
			slog.Warn("Fixtures saved but post-commit work failed", "error", err)
			return len(entities), err
		}
		return 0, err
	}
	return len(entities), nil
}

// ImportFile loads the fixture file at path and imports it.
func ImportFile(s *store.Session, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open fixtures: %w", err)
	}
	defer func() { _ = file.Close() }()

	f, err := LoadFixtures(file)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	n, err := Import(s, f)
	if err == nil {
		slog.Info("Imported fixtures", "file", path, "entities", n)
	}
	return n, err
}
