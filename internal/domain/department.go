// Package domain holds the department catalogue: its entities, how they are
// indexed and how fixture files are loaded into the store.
package domain

import (
	"github.com/sha1n/relic-search/internal/bridge"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/sha1n/relic-search/internal/store"
)

// Entity names.
const (
	DepartmentEntity  = "Department"
	DepartmentsEntity = "Departments"
)

// Index field names. Property fields are named after the property they index.
const (
	FieldBranch        = "Branch"
	FieldBranchHead    = "BranchHead"
	FieldMaxEmployees  = "MaxEmployees"
	FieldNetwork       = "Network"
	FieldManufacturer  = "Manufacturer"
	FieldBranchNetwork = "branchnetwork"
	FieldEquipType     = "equiptype"
)

// EquipmentTypes maps manufacturer codes to the names indexed by equiptype.
var EquipmentTypes = map[string]string{
	"C": "Cisco",
	"D": "D-Link",
	"K": "Kingston",
	"3": "3Com",
}

// Department is a branch office.
type Department struct {
	ID           uint64 `json:"id" yaml:"id,omitempty"`
	Branch       string `json:"branch" yaml:"branch"`
	BranchHead   string `json:"branch_head" yaml:"branch_head"`
	MaxEmployees int    `json:"max_employees" yaml:"max_employees"`
	Network      string `json:"network" yaml:"network"`
}

func (d *Department) EntityName() string    { return DepartmentEntity }
func (d *Department) EntityID() uint64      { return d.ID }
func (d *Department) SetEntityID(id uint64) { d.ID = id }
func (d *Department) GetBranch() string     { return d.Branch }
func (d *Department) GetNetwork() string    { return d.Network }

// Departments is a branch office together with its equipment manufacturer.
type Departments struct {
	ID           uint64 `json:"id" yaml:"id,omitempty"`
	Branch       string `json:"branch" yaml:"branch"`
	BranchHead   string `json:"branch_head" yaml:"branch_head"`
	MaxEmployees int    `json:"max_employees" yaml:"max_employees"`
	Network      string `json:"network" yaml:"network"`
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
}

func (d *Departments) EntityName() string      { return DepartmentsEntity }
func (d *Departments) EntityID() uint64        { return d.ID }
func (d *Departments) SetEntityID(id uint64)   { d.ID = id }
func (d *Departments) GetBranch() string       { return d.Branch }
func (d *Departments) GetNetwork() string      { return d.Network }
func (d *Departments) GetManufacturer() string { return d.Manufacturer }

// Mappings returns fresh index mappings for both entities. Bridges are
// stateful once configured, so every engine gets its own instances.
func Mappings() []*search.EntityMapping {
	return []*search.EntityMapping{DepartmentMapping(), DepartmentsMapping()}
}

// DepartmentMapping indexes Department with the branchnetwork bridge.
func DepartmentMapping() *search.EntityMapping {
	return &search.EntityMapping{
		Name:    DepartmentEntity,
		Factory: func() store.Entity { return &Department{} },
		Properties: []search.PropertyMapping{
			search.Property(FieldBranch, search.Text, func(d *Department) any { return d.Branch }),
			search.Property(FieldBranchHead, search.Text, func(d *Department) any { return d.BranchHead }),
			search.Property(FieldMaxEmployees, search.Numeric, func(d *Department) any { return d.MaxEmployees }),
			search.Property(FieldNetwork, search.Text, func(d *Department) any { return d.Network }),
		},
		ClassBridges: []search.ClassBridgeMapping{
			{
				Name:   FieldBranchNetwork,
				Bridge: bridge.NewCatFieldsBridge(),
				Params: map[string]string{"sepChar": " "},
				Store:  true,
			},
		},
	}
}

// DepartmentsMapping indexes Departments with the equiptype and
// branchnetwork bridges.
func DepartmentsMapping() *search.EntityMapping {
	return &search.EntityMapping{
		Name:    DepartmentsEntity,
		Factory: func() store.Entity { return &Departments{} },
		Properties: []search.PropertyMapping{
			search.Property(FieldBranch, search.Text, func(d *Departments) any { return d.Branch }),
			search.Property(FieldBranchHead, search.Text, func(d *Departments) any { return d.BranchHead }),
			search.Property(FieldMaxEmployees, search.Numeric, func(d *Departments) any { return d.MaxEmployees }),
			search.Property(FieldNetwork, search.Text, func(d *Departments) any { return d.Network }),
			search.Property(FieldManufacturer, search.Keyword, func(d *Departments) any { return d.Manufacturer }),
		},
		ClassBridges: []search.ClassBridgeMapping{
			{
				Name:   FieldEquipType,
				Bridge: bridge.NewEquipmentTypeBridge(),
				Params: EquipmentTypes,
				Store:  true,
			},
			{
				Name:   FieldBranchNetwork,
				Bridge: bridge.NewCatFieldsBridge(),
				Params: map[string]string{"sepChar": " "},
				Store:  true,
			},
		},
	}
}
