package search

import (
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/relic-search/internal/store"
)

// ErrNoTransaction is returned by index operations that need an open
// transaction.
var ErrNoTransaction = errors.New("no open transaction")

// FullTextSession wraps a store session with full-text search.
type FullTextSession struct {
	engine  *Engine
	session *store.Session
}

// FullTextSession wraps s. The wrapper shares the session's transaction.
func (e *Engine) FullTextSession(s *store.Session) *FullTextSession {
	return &FullTextSession{engine: e, session: s}
}

// Session returns the wrapped store session.
func (f *FullTextSession) Session() *store.Session {
	return f.session
}

// CreateFullTextQuery creates a query over the named entity types, or over
// every indexed type when none are given.
func (f *FullTextSession) CreateFullTextQuery(q query.Query, entities ...string) *FullTextQuery {
	return &FullTextQuery{
		session:  f,
		query:    q,
		entities: entities,
		max:      -1,
	}
}

// Index queues e for reindexing when the open transaction commits.
func (f *FullTextSession) Index(e store.Entity) error {
	tx, err := f.indexTx(e.EntityName())
	if err != nil {
		return err
	}
	if e.EntityID() == 0 {
		return fmt.Errorf("%w: %s", store.ErrTransient, e.EntityName())
	}
	f.engine.queueFor(tx).add(workIndex, e.EntityName(), e.EntityID())
	return nil
}

// Purge queues removal of one entity from the index. The stored entity is
// left untouched.
func (f *FullTextSession) Purge(entity string, id uint64) error {
	tx, err := f.indexTx(entity)
	if err != nil {
		return err
	}
	f.engine.queueFor(tx).add(workDelete, entity, id)
	return nil
}

// PurgeAll queues removal of every document of an entity type from the
// index when the open transaction commits.
func (f *FullTextSession) PurgeAll(entity string) error {
	tx, err := f.indexTx(entity)
	if err != nil {
		return err
	}
	f.engine.queueFor(tx).purgeAll(entity)
	return nil
}

func (f *FullTextSession) indexTx(entity string) (*store.Transaction, error) {
	if !f.engine.isIndexed(entity) {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, entity)
	}
	tx := f.session.Transaction()
	if tx == nil {
		return nil, ErrNoTransaction
	}
	return tx, nil
}
