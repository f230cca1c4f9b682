package search

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sha1n/relic-search/internal/store"
)

// workQueueKey identifies the engine's synchronization on a transaction.
const workQueueKey = "search.work_queue"

type workKind int

const (
	workIndex workKind = iota
	workDelete
)

type work struct {
	entity string
	id     uint64
	kind   workKind
	doc    map[string]any
	built  bool
}

// workQueue collects index changes made in one transaction. Changes to the
// same entity collapse into the last one. Documents are built before the
// commit, from the state the transaction is about to commit, and applied to
// the indexes only after it succeeded.
type workQueue struct {
	engine  *Engine
	tx      *store.Transaction
	works   map[string]*work
	order   []string
	purge   map[string]bool
	purgeOr []string
}

func newWorkQueue(engine *Engine, tx *store.Transaction) *workQueue {
	return &workQueue{
		engine: engine,
		tx:     tx,
		works:  make(map[string]*work),
		purge:  make(map[string]bool),
	}
}

// queueFor returns the work queue attached to tx.
func (e *Engine) queueFor(tx *store.Transaction) *workQueue {
	s := tx.Synchronization(workQueueKey, func() store.Synchronization {
		return newWorkQueue(e, tx)
	})
	return s.(*workQueue)
}

func (q *workQueue) add(kind workKind, entity string, id uint64) {
	key := docID(entity, id)
	w, ok := q.works[key]
	if !ok {
		w = &work{entity: entity, id: id}
		q.works[key] = w
		q.order = append(q.order, key)
	}
	w.kind = kind
	w.doc = nil
	w.built = false
}

// purgeAll drops every document of the entity type. Works queued earlier for
// that type are discarded; later ones are applied after the purge.
func (q *workQueue) purgeAll(entity string) {
	if !q.purge[entity] {
		q.purge[entity] = true
		q.purgeOr = append(q.purgeOr, entity)
	}
	kept := q.order[:0]
	for _, key := range q.order {
		if q.works[key].entity == entity {
			delete(q.works, key)
			continue
		}
		kept = append(kept, key)
	}
	q.order = kept
}

// BeforeCompletion builds the documents of pending index works.
func (q *workQueue) BeforeCompletion() error {
	session := q.tx.Session()
	for _, key := range q.order {
		w := q.works[key]
		if w.built || w.kind != workIndex {
			continue
		}
		m, err := q.engine.mapping(w.entity)
		if err != nil {
			return err
		}
		e, err := session.Get(w.entity, w.id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Gone from the store, so drop it from the index too.
				w.kind = workDelete
				w.built = true
				continue
			}
			return fmt.Errorf("failed to load %s for indexing: %w", key, err)
		}
		doc, err := m.BuildDocument(e)
		if err != nil {
			return fmt.Errorf("failed to build document %s: %w", key, err)
		}
		w.doc = doc
		w.built = true
	}
	return nil
}

// AfterCompletion applies the queued works, one batch per index.
func (q *workQueue) AfterCompletion(committed bool) error {
	if !committed {
		return nil
	}

	var errs []error
	for _, entity := range q.purgeOr {
		if err := q.engine.purge(entity); err != nil {
			errs = append(errs, err)
		}
	}

	batches := make(map[string][]*work)
	var entities []string
	for _, key := range q.order {
		w := q.works[key]
		if _, seen := batches[w.entity]; !seen {
			entities = append(entities, w.entity)
		}
		batches[w.entity] = append(batches[w.entity], w)
	}

	for _, entity := range entities {
		if err := q.engine.apply(entity, batches[entity]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// apply writes works to the entity's index in a single batch.
func (e *Engine) apply(entity string, works []*work) error {
	idx, err := e.indexes.Get(entity)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, w := range works {
		id := docID(w.entity, w.id)
		switch w.kind {
		case workDelete:
			batch.Delete(id)
		case workIndex:
			if !w.built {
				return fmt.Errorf("document %s was not built before commit", id)
			}
			if err := batch.Index(id, w.doc); err != nil {
				return fmt.Errorf("failed to index %s: %w", id, err)
			}
		}
	}

	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("batch index failed for %s: %w", entity, err)
	}
	slog.Debug("Applied index works", "entity", entity, "count", len(works))
	return nil
}

// listener routes store events into the transaction's work queue.
type listener struct {
	engine *Engine
}

func (l *listener) OnSave(tx *store.Transaction, e store.Entity) error {
	if !l.engine.isIndexed(e.EntityName()) {
		return nil
	}
	l.engine.queueFor(tx).add(workIndex, e.EntityName(), e.EntityID())
	return nil
}

func (l *listener) OnDelete(tx *store.Transaction, e store.Entity) error {
	if !l.engine.isIndexed(e.EntityName()) {
		return nil
	}
	l.engine.queueFor(tx).add(workDelete, e.EntityName(), e.EntityID())
	return nil
}
