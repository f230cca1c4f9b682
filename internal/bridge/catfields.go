package bridge

import "fmt"

// DefaultSeparator joins the concatenated values when no sepChar parameter is set.
const DefaultSeparator = " "

// BranchNetwork is implemented by entities that carry a branch and a network.
type BranchNetwork interface {
	GetBranch() string
	GetNetwork() string
}

// CatFieldsBridge concatenates an entity's branch and network into one field.
type CatFieldsBridge struct {
	sep string
}

// NewCatFieldsBridge creates a CatFieldsBridge using DefaultSeparator.
func NewCatFieldsBridge() *CatFieldsBridge {
	return &CatFieldsBridge{sep: DefaultSeparator}
}

// SetParameters reads the optional "sepChar" parameter.
func (b *CatFieldsBridge) SetParameters(params map[string]string) error {
	if sep, ok := params["sepChar"]; ok {
		b.sep = sep
	}
	return nil
}

// Set writes "<branch><sep><network>" under name.
func (b *CatFieldsBridge) Set(name string, entity any, doc *Document) error {
	bn, ok := entity.(BranchNetwork)
	if !ok {
		return fmt.Errorf("%w: %T has no branch and network", ErrUnsupportedEntity, entity)
	}
	return doc.Add(name, bn.GetBranch()+b.sep+bn.GetNetwork())
}
