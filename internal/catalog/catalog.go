// Package catalog holds the immutable set of models the gateway serves.
package catalog

import (
	"fmt"
	"strings"

	"dify2ollama/internal/core"
)

// Catalog maps model names to descriptors. It is built once at startup and
// only read afterwards, so it is safe for concurrent use without locking.
type Catalog struct {
	order        []string
	byName       map[string]core.ModelDescriptor
	defaultModel string
}

// New registers descs in order. Names must be non-empty, unique and free of
// surrounding whitespace; they are stored exactly as given. An empty
// defaultModel selects the first registered model.
func New(descs []core.ModelDescriptor, defaultModel string) (*Catalog, error) {
	if len(descs) == 0 {
		return nil, core.ErrInvalidConfig("models", "catalog is empty")
	}

	c := &Catalog{
		order:  make([]string, 0, len(descs)),
		byName: make(map[string]core.ModelDescriptor, len(descs)),
	}
	for i, d := range descs {
		name := d.Name
		if strings.TrimSpace(name) == "" {
			return nil, core.ErrInvalidConfig("models", fmt.Sprintf("entry %d has no name", i))
		}
		if strings.TrimSpace(name) != name {
			return nil, core.ErrInvalidConfig("models", fmt.Sprintf("model %q has surrounding whitespace", name))
		}
		if _, dup := c.byName[name]; dup {
			return nil, core.ErrInvalidConfig("models", fmt.Sprintf("duplicate model %q", name))
		}
		if d.Model == "" {
			d.Model = name
		}
		if d.Size < 0 {
			return nil, core.ErrInvalidConfig("models", fmt.Sprintf("model %q has negative size", name))
		}
		if d.Details.Families != nil {
			d.Details.Families = append([]string(nil), d.Details.Families...)
		}
		c.order = append(c.order, name)
		c.byName[name] = d
	}

	if defaultModel == "" {
		defaultModel = c.order[0]
	}
	if _, ok := c.byName[defaultModel]; !ok {
		return nil, core.ErrInvalidConfig("default model", fmt.Sprintf("%q is not in the catalog", defaultModel))
	}
	c.defaultModel = defaultModel
	return c, nil
}

// Resolve looks up name by exact match. An empty name resolves to the default model.
func (c *Catalog) Resolve(name string) (core.ModelDescriptor, error) {
	if name == "" {
		name = c.defaultModel
	}
	d, ok := c.byName[name]
	if !ok {
		return core.ModelDescriptor{}, core.ErrModelNotFound(name)
	}
	return copyDescriptor(d), nil
}

// Contains reports whether name is registered.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// List returns every descriptor in registration order.
func (c *Catalog) List() []core.ModelDescriptor {
	out := make([]core.ModelDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, copyDescriptor(c.byName[name]))
	}
	return out
}

// Default returns the model used when a request names none.
func (c *Catalog) Default() string {
	return c.defaultModel
}

// Len returns the number of registered models.
func (c *Catalog) Len() int {
	return len(c.order)
}

func copyDescriptor(d core.ModelDescriptor) core.ModelDescriptor {
	if d.Details.Families != nil {
		d.Details.Families = append([]string(nil), d.Details.Families...)
	}
	return d
}
