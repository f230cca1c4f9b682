package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/relic-search/internal/store"
)

// Special projections.
const (
	// ProjectionThis projects the matching entity itself.
	ProjectionThis = "__this"
	// ProjectionID projects the entity id.
	ProjectionID = "__id"
	// ProjectionScore projects the hit score.
	ProjectionScore = "__score"
	// ProjectionEntity projects the entity type name.
	ProjectionEntity = "__entity"
)

// FullTextQuery is a query bound to a full-text session.
type FullTextQuery struct {
	session    *FullTextSession
	query      query.Query
	entities   []string
	first      int
	max        int
	projection []string
}

// SetFirstResult skips the first n hits.
func (q *FullTextQuery) SetFirstResult(n int) *FullTextQuery {
	q.first = n
	return q
}

// SetMaxResults limits the number of hits returned. The default is the
// engine's configured maximum.
func (q *FullTextQuery) SetMaxResults(n int) *FullTextQuery {
	q.max = n
	return q
}

// SetProjection selects the stored fields (or special projections) returned
// by Projection.
func (q *FullTextQuery) SetProjection(fields ...string) *FullTextQuery {
	q.projection = fields
	return q
}

// List runs the query and loads the matching entities through the session,
// ordered by score. Hits whose entity no longer exists are skipped.
func (q *FullTextQuery) List(ctx context.Context) ([]store.Entity, error) {
	res, err := q.run(ctx, nil)
	if err != nil {
		return nil, err
	}

	entities := make([]store.Entity, 0, len(res.Hits))
	for _, hit := range res.Hits {
		e, err := q.load(hit.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				slog.Warn("Index hit has no stored entity", "doc_id", hit.ID)
				continue
			}
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// ResultSize returns the total number of hits, ignoring paging.
func (q *FullTextQuery) ResultSize(ctx context.Context) (uint64, error) {
	alias, err := q.alias()
	if err != nil {
		return 0, err
	}
	req := bleve.NewSearchRequestOptions(q.query, 0, 0, false)
	res, err := alias.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("search failed: %w", err)
	}
	return res.Total, nil
}

// Projection runs the query and returns one row per hit holding the
// projected values in SetProjection order. Missing stored fields are nil.
func (q *FullTextQuery) Projection(ctx context.Context) ([][]any, error) {
	if len(q.projection) == 0 {
		return nil, errors.New("no projection set")
	}

	var stored []string
	for _, f := range q.projection {
		switch f {
		case ProjectionThis, ProjectionID, ProjectionScore, ProjectionEntity:
		default:
			stored = append(stored, f)
		}
	}

	res, err := q.run(ctx, stored)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entity, id, err := parseDocID(hit.ID)
		if err != nil {
			return nil, err
		}

		row := make([]any, len(q.projection))
		skip := false
		for i, f := range q.projection {
			switch f {
			case ProjectionThis:
				e, err := q.session.session.Get(entity, id)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						slog.Warn("Index hit has no stored entity", "doc_id", hit.ID)
						skip = true
						break
					}
					return nil, err
				}
				row[i] = e
			case ProjectionID:
				row[i] = id
			case ProjectionScore:
				row[i] = hit.Score
			case ProjectionEntity:
				row[i] = entity
			default:
				row[i] = hit.Fields[f]
			}
		}
		if !skip {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (q *FullTextQuery) run(ctx context.Context, fields []string) (*bleve.SearchResult, error) {
	alias, err := q.alias()
	if err != nil {
		return nil, err
	}

	size := q.max
	if size < 0 {
		size = q.session.engine.settings.MaxResults
	}

	req := bleve.NewSearchRequestOptions(q.query, size, q.first, false)
	req.Fields = fields

	res, err := alias.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}

func (q *FullTextQuery) alias() (bleve.IndexAlias, error) {
	if q.query == nil {
		return nil, ErrEmptyQuery
	}
	for _, name := range q.entities {
		if !q.session.engine.isIndexed(name) {
			return nil, fmt.Errorf("%w: %s", ErrNotIndexed, name)
		}
	}
	return q.session.engine.indexes.Alias(q.entities...)
}

func (q *FullTextQuery) load(id string) (store.Entity, error) {
	entity, n, err := parseDocID(id)
	if err != nil {
		return nil, err
	}
	return q.session.session.Get(entity, n)
}
