package search

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sha1n/relic-search/internal/bridge"
	"github.com/sha1n/relic-search/internal/store"
)

// ErrFieldCollision is returned when two class bridges write the same field.
var ErrFieldCollision = errors.New("field written by more than one source")

// docID returns the index document id for an entity.
func docID(entity string, id uint64) string {
	return entity + "/" + strconv.FormatUint(id, 10)
}

// parseDocID splits an index document id into entity name and id.
func parseDocID(s string) (string, uint64, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed document id %q", s)
	}
	id, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed document id %q: %w", s, err)
	}
	return s[:i], id, nil
}

// BuildDocument converts an entity into the field map that is indexed.
// Properties are written first; each class bridge then writes to its own
// sink, where every other declared field is reserved.
func (m *EntityMapping) BuildDocument(e store.Entity) (map[string]any, error) {
	if e.EntityName() != m.Name {
		return nil, fmt.Errorf("mapping %s cannot index %s", m.Name, e.EntityName())
	}

	doc := map[string]any{
		FieldID:     strconv.FormatUint(e.EntityID(), 10),
		FieldEntity: m.Name,
	}

	for _, p := range m.Properties {
		v, ok := p.value(e)
		if !ok {
			return nil, fmt.Errorf("property %s.%s: unexpected entity type %T", m.Name, p.Name, e)
		}
		if v == nil {
			continue
		}
		if p.Kind == Numeric {
			f, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("property %s.%s: %w", m.Name, p.Name, err)
			}
			v = f
		}
		doc[p.Name] = v
	}

	owned := m.ownedFields()
	for _, b := range m.ClassBridges {
		reserved := slices.DeleteFunc(slices.Clone(owned), func(name string) bool {
			return name == b.Name
		})
		sink := bridge.NewDocument(reserved...)
		if err := b.Bridge.Set(b.Name, e, sink); err != nil {
			return nil, fmt.Errorf("class bridge %s.%s: %w", m.Name, b.Name, err)
		}
		for _, name := range sink.Names() {
			if _, exists := doc[name]; exists {
				return nil, fmt.Errorf("%w: %s.%s", ErrFieldCollision, m.Name, name)
			}
			values := sink.Values(name)
			if len(values) == 1 {
				doc[name] = values[0]
			} else {
				doc[name] = values
			}
		}
	}

	return doc, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}
