package bridge

import (
	"errors"
	"fmt"
	"maps"
)

// Manufactured is implemented by entities that carry a manufacturer code.
type Manufactured interface {
	GetManufacturer() string
}

// EquipmentTypeBridge translates a manufacturer code into the manufacturer
// name using its parameters as the lookup table.
type EquipmentTypeBridge struct {
	names map[string]string
}

// NewEquipmentTypeBridge creates a bridge with an empty lookup table.
func NewEquipmentTypeBridge() *EquipmentTypeBridge {
	return &EquipmentTypeBridge{names: map[string]string{}}
}

// SetParameters replaces the code to name table.
func (b *EquipmentTypeBridge) SetParameters(params map[string]string) error {
	if len(params) == 0 {
		return errors.New("equipment type bridge requires at least one code mapping")
	}
	b.names = maps.Clone(params)
	return nil
}

// Set writes the manufacturer name under name. Codes without a mapping
// produce no field.
func (b *EquipmentTypeBridge) Set(name string, entity any, doc *Document) error {
	m, ok := entity.(Manufactured)
	if !ok {
		return fmt.Errorf("%w: %T has no manufacturer", ErrUnsupportedEntity, entity)
	}
	value, ok := b.names[m.GetManufacturer()]
	if !ok {
		return nil
	}
	return doc.Add(name, value)
}
