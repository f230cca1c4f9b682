package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/relic-search/internal/bridge"
	"github.com/sha1n/relic-search/internal/store"
)

// System fields present in every indexed document.
const (
	FieldID     = "_entity_id"
	FieldEntity = "_entity"
)

// FieldKind selects how a property is indexed.
type FieldKind int

const (
	// Text fields are analyzed.
	Text FieldKind = iota
	// Keyword fields are indexed as a single exact term.
	Keyword
	// Numeric fields support range queries.
	Numeric
)

// ErrInvalidMapping is returned by Validate.
var ErrInvalidMapping = errors.New("invalid entity mapping")

// PropertyMapping indexes one entity property under its own field.
type PropertyMapping struct {
	Name     string
	Kind     FieldKind
	Analyzer string
	Store    bool
	value    func(store.Entity) (any, bool)
}

// Property maps a typed accessor to an index field. The field is stored.
func Property[T store.Entity](name string, kind FieldKind, get func(T) any) PropertyMapping {
	return PropertyMapping{
		Name:  name,
		Kind:  kind,
		Store: true,
		value: func(e store.Entity) (any, bool) {
			t, ok := e.(T)
			if !ok {
				return nil, false
			}
			return get(t), true
		},
	}
}

// WithAnalyzer returns a copy of p analyzed with the named analyzer.
func (p PropertyMapping) WithAnalyzer(name string) PropertyMapping {
	p.Analyzer = name
	return p
}

// ClassBridgeMapping registers a class bridge under a field name.
type ClassBridgeMapping struct {
	Name     string
	Bridge   bridge.ClassBridge
	Params   map[string]string
	Analyzer string
	Store    bool
}

// EntityMapping describes how one entity type is indexed.
type EntityMapping struct {
	Name         string
	Factory      store.Factory
	Properties   []PropertyMapping
	ClassBridges []ClassBridgeMapping
}

// Validate checks names and rejects fields that would collide.
func (m *EntityMapping) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: entity name cannot be empty", ErrInvalidMapping)
	}
	if m.Factory == nil {
		return fmt.Errorf("%w: %s: factory cannot be nil", ErrInvalidMapping, m.Name)
	}

	seen := map[string]string{
		FieldID:     "system field",
		FieldEntity: "system field",
	}
	claim := func(name, owner string) error {
		if name == "" {
			return fmt.Errorf("%w: %s: %s has an empty field name", ErrInvalidMapping, m.Name, owner)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s: field %q of %s collides with %s", ErrInvalidMapping, m.Name, name, owner, prev)
		}
		seen[name] = owner
		return nil
	}

	for _, p := range m.Properties {
		if p.value == nil {
			return fmt.Errorf("%w: %s: property %q has no accessor", ErrInvalidMapping, m.Name, p.Name)
		}
		if err := claim(p.Name, "property"); err != nil {
			return err
		}
	}
	for _, b := range m.ClassBridges {
		if b.Bridge == nil {
			return fmt.Errorf("%w: %s: class bridge %q has no implementation", ErrInvalidMapping, m.Name, b.Name)
		}
		if err := claim(b.Name, "class bridge"); err != nil {
			return err
		}
	}
	return nil
}

// configureBridges passes parameters to every parameterized bridge.
func (m *EntityMapping) configureBridges() error {
	for _, b := range m.ClassBridges {
		pb, ok := b.Bridge.(bridge.ParameterizedBridge)
		if !ok {
			continue
		}
		if err := pb.SetParameters(b.Params); err != nil {
			return fmt.Errorf("failed to configure class bridge %s.%s: %w", m.Name, b.Name, err)
		}
	}
	return nil
}

// ownedFields returns every field name the mapping declares.
func (m *EntityMapping) ownedFields() []string {
	names := []string{FieldID, FieldEntity}
	for _, p := range m.Properties {
		names = append(names, p.Name)
	}
	for _, b := range m.ClassBridges {
		names = append(names, b.Name)
	}
	return names
}

// StoredFields returns the names of the fields whose values are stored in
// the index and can be projected, properties first.
func (m *EntityMapping) StoredFields() []string {
	var names []string
	for _, p := range m.Properties {
		if p.Store {
			names = append(names, p.Name)
		}
	}
	for _, b := range m.ClassBridges {
		if b.Store {
			names = append(names, b.Name)
		}
	}
	return names
}

// IndexMapping creates the Bleve index mapping for the entity.
func (m *EntityMapping) IndexMapping(defaultAnalyzer string) *mapping.IndexMappingImpl {
	docMapping := bleve.NewDocumentMapping()

	idField := bleve.NewKeywordFieldMapping()
	idField.Store = true
	idField.IncludeInAll = false
	docMapping.AddFieldMappingsAt(FieldID, idField)

	entityField := bleve.NewKeywordFieldMapping()
	entityField.Store = true
	entityField.IncludeInAll = false
	docMapping.AddFieldMappingsAt(FieldEntity, entityField)

	for _, p := range m.Properties {
		var fm *mapping.FieldMapping
		switch p.Kind {
		case Keyword:
			fm = bleve.NewKeywordFieldMapping()
		case Numeric:
			fm = bleve.NewNumericFieldMapping()
		default:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = orDefault(p.Analyzer, defaultAnalyzer)
		}
		fm.Store = p.Store
		docMapping.AddFieldMappingsAt(p.Name, fm)
	}

	// Bridge fields exist only in the index.
	for _, b := range m.ClassBridges {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = orDefault(b.Analyzer, defaultAnalyzer)
		fm.Store = b.Store
		docMapping.AddFieldMappingsAt(b.Name, fm)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = defaultAnalyzer

	return indexMapping
}

// Fingerprint identifies the index layout. It changes whenever a field,
// analyzer, bridge implementation or bridge parameter changes.
func (m *EntityMapping) Fingerprint(defaultAnalyzer string) (string, error) {
	layout, err := json.Marshal(m.IndexMapping(defaultAnalyzer))
	if err != nil {
		return "", fmt.Errorf("failed to marshal index mapping: %w", err)
	}

	h := sha256.New()
	h.Write(layout)
	for _, b := range m.ClassBridges {
		fmt.Fprintf(h, "|%s=%T", b.Name, b.Bridge)
		keys := make([]string, 0, len(b.Params))
		for k := range b.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, ";%s:%s", k, b.Params[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
