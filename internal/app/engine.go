package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sha1n/relic-search/internal/config"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/sha1n/relic-search/internal/store"
)

// OpenEngine opens the entity store and the search engine over the
// department catalogue. The returned function closes both and logs failures.
func OpenEngine(ctx context.Context, settings *config.SearchSettings) (*search.Engine, func(), error) {
	db, err := store.Open(settings.StorePath(), store.Options{Timeout: settings.LockTimeout})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	engine, err := search.New(ctx, db, settings, domain.Mappings()...)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open search engine: %w", err)
	}

	closeAll := func() {
		if err := errors.Join(engine.Close(), db.Close()); err != nil {
			slog.Error("Failed to close search engine", "error", err)
		}
	}
	return engine, closeAll, nil
}

// ImportFixtures loads a fixture file into the store. Entities are indexed
// as part of the import transaction.
func ImportFixtures(ctx context.Context, settings *config.SearchSettings, path string) (int, error) {
	engine, closeEngine, err := OpenEngine(ctx, settings)
	if err != nil {
		return 0, err
	}
	defer closeEngine()

	session := engine.DB().OpenSession()
	defer func() { _ = session.Close() }()

	return domain.ImportFile(session, path)
}

// Reindex rebuilds the indexes of the named entity types, or of every type
// when none are given, and returns the documents indexed per type.
func Reindex(ctx context.Context, settings *config.SearchSettings, entities ...string) (map[string]int, error) {
	engine, closeEngine, err := OpenEngine(ctx, settings)
	if err != nil {
		return nil, err
	}
	defer closeEngine()

	return engine.Rebuild(ctx, entities...)
}
