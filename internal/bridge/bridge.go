// Package bridge defines class bridges: transformations that derive
// index-only fields from a whole entity rather than from a single property.
package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrReservedField is returned when a bridge writes to a field owned by
	// a property, a system field, or another bridge.
	ErrReservedField = errors.New("field is reserved")

	// ErrEmptyFieldName is returned when a bridge writes to an unnamed field.
	ErrEmptyFieldName = errors.New("field name cannot be empty")

	// ErrUnsupportedEntity is returned when a bridge receives an entity that
	// does not expose the state it reads.
	ErrUnsupportedEntity = errors.New("unsupported entity")
)

// ClassBridge derives one or more fields from the full state of an entity.
// name is the field name the bridge was registered under. Implementations
// must be deterministic: the same entity state always yields the same fields.
type ClassBridge interface {
	Set(name string, entity any, doc *Document) error
}

// ParameterizedBridge is implemented by bridges that accept configuration
// parameters. SetParameters is called once, before the first Set.
type ParameterizedBridge interface {
	SetParameters(params map[string]string) error
}

// Func adapts an ordinary function to ClassBridge.
type Func func(name string, entity any, doc *Document) error

// Set calls f.
func (f Func) Set(name string, entity any, doc *Document) error {
	return f(name, entity, doc)
}

// Document is the field sink handed to a bridge. It only accepts writes to
// names that are not reserved.
type Document struct {
	fields   map[string][]string
	order    []string
	reserved map[string]bool
}

// NewDocument creates an empty document that rejects writes to reserved.
func NewDocument(reserved ...string) *Document {
	r := make(map[string]bool, len(reserved))
	for _, name := range reserved {
		r[name] = true
	}
	return &Document{
		fields:   make(map[string][]string),
		reserved: r,
	}
}

// Add appends value to the named field.
func (d *Document) Add(name, value string) error {
	if name == "" {
		return ErrEmptyFieldName
	}
	if d.reserved[name] {
		return fmt.Errorf("%w: %s", ErrReservedField, name)
	}
	if _, ok := d.fields[name]; !ok {
		d.order = append(d.order, name)
	}
	d.fields[name] = append(d.fields[name], value)
	return nil
}

// Values returns the values written to the named field.
func (d *Document) Values(name string) []string {
	return d.fields[name]
}

// Names returns field names in the order they were first written.
func (d *Document) Names() []string {
	names := make([]string, len(d.order))
	copy(names, d.order)
	return names
}

// Len returns the number of distinct fields written.
func (d *Document) Len() int {
	return len(d.order)
}
