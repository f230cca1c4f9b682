package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"
)

// ErrEmptyQuery is returned when parsing a blank query string.
var ErrEmptyQuery = errors.New("query cannot be empty")

// QueryParser parses query strings such as "branchnetwork:layton 2B".
// Clauses without a field prefix search the default field, and every text
// clause is analyzed with the parser's analyzer when one is set.
type QueryParser struct {
	defaultField string
	analyzer     string
}

// NewQueryParser creates a parser. An empty analyzer keeps the analyzer of
// each field's mapping.
func NewQueryParser(defaultField, analyzer string) *QueryParser {
	return &QueryParser{
		defaultField: defaultField,
		analyzer:     analyzer,
	}
}

// DefaultField returns the field unqualified clauses search.
func (p *QueryParser) DefaultField() string {
	return p.defaultField
}

// Parse parses a query string.
func (p *QueryParser) Parse(s string) (query.Query, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyQuery
	}

	q, err := query.NewQueryStringQuery(s).Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", s, err)
	}
	p.rewrite(q)
	return q, nil
}

// MustParse is like Parse but panics on error.
func (p *QueryParser) MustParse(s string) query.Query {
	q, err := p.Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

// rewrite walks the parsed tree assigning the default field and analyzer.
func (p *QueryParser) rewrite(q query.Query) {
	switch q := q.(type) {
	case *query.BooleanQuery:
		if q == nil {
			return
		}
		p.rewrite(q.Must)
		p.rewrite(q.Should)
		p.rewrite(q.MustNot)
	case *query.ConjunctionQuery:
		if q == nil {
			return
		}
		for _, c := range q.Conjuncts {
			p.rewrite(c)
		}
	case *query.DisjunctionQuery:
		if q == nil {
			return
		}
		for _, d := range q.Disjuncts {
			p.rewrite(d)
		}
	case *query.MatchQuery:
		p.assignField(q)
		if p.analyzer != "" {
			q.Analyzer = p.analyzer
		}
	case *query.MatchPhraseQuery:
		p.assignField(q)
		if p.analyzer != "" {
			q.Analyzer = p.analyzer
		}
	case query.FieldableQuery:
		p.assignField(q)
	}
}

func (p *QueryParser) assignField(q query.FieldableQuery) {
	if q.Field() == "" && p.defaultField != "" {
		q.SetField(p.defaultField)
	}
}
