package entity

import (
	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/kelindar/bitmap"
)

// Composition is the set of component kinds an entity has.
type Composition struct {
	bits    bitmap.Bitmap
	manager *component.Manager
}

// Has reports whether the composition contains t.
func (c Composition) Has(t *component.Type) bool {
	return c.bits.Contains(t.ID())
}

// Len returns the number of component kinds.
func (c Composition) Len() int {
	return c.bits.Count()
}

// IDs returns the component type ids in ascending order.
func (c Composition) IDs() []component.TypeID {
	ids := make([]component.TypeID, 0, c.bits.Count())
	c.bits.Range(func(x uint32) {
		ids = append(ids, x)
	})
	return ids
}

// Types returns the component descriptors in ascending id order.
func (c Composition) Types() []*component.Type {
	types := make([]*component.Type, 0, c.bits.Count())
	c.bits.Range(func(x uint32) {
		if t, err := c.manager.ByID(x); err == nil {
			types = append(types, t)
		}
	})
	return types
}

// Names returns the component names in ascending id order.
func (c Composition) Names() []string {
	types := c.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name()
	}
	return names
}
