// Package catalog loads document definitions and resolves requested ids into an execution plan.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/docflow/internal/model"
)

// Catalog is the immutable set of document definitions for a run.
type Catalog struct {
	defs  map[string]model.DocumentDefinition
	order []string
	index map[string]int
}

type catalogFile struct {
	Documents []model.DocumentDefinition `yaml:"documents"`
}

// Load reads a YAML catalog of the form `documents: [...]`.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Documents)
}

// New validates definitions and keeps their declaration order for tie-breaking.
// Dependencies on ids outside the catalog are accepted here and reported by Resolve.
func New(defs []model.DocumentDefinition) (*Catalog, error) {
	errs := &model.ValidationErrors{}
	c := &Catalog{
		defs:  make(map[string]model.DocumentDefinition, len(defs)),
		order: make([]string, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			errs.Add(fmt.Sprintf("documents[%d].id", i), "must not be empty")
			continue
		}
		if _, dup := c.defs[d.ID]; dup {
			errs.Add(fmt.Sprintf("documents[%d].id", i), fmt.Sprintf("duplicate id %q", d.ID))
			continue
		}
		for j, dep := range d.DependsOn {
			if dep == d.ID {
				errs.Add(fmt.Sprintf("documents[%d].depends_on[%d]", i, j), "self-reference is not allowed")
			}
		}
		switch d.Generator {
		case "":
			d.Generator = model.GeneratorGeneric
		case model.GeneratorGeneric, model.GeneratorSpecial:
		default:
			errs.Add(fmt.Sprintf("documents[%d].generator", i), fmt.Sprintf("unknown generator %q", d.Generator))
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		c.index[d.ID] = len(c.order)
		c.order = append(c.order, d.ID)
		c.defs[d.ID] = d
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return c, nil
}

func (c *Catalog) Get(id string) (model.DocumentDefinition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Definitions returns every definition in declaration order.
func (c *Catalog) Definitions() []model.DocumentDefinition {
	out := make([]model.DocumentDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

// Dependencies returns the declared direct dependencies of id.
func (c *Catalog) Dependencies(id string) []string {
	return c.defs[id].DependsOn
}

// AllDependencies returns the transitive closure of id's dependencies in
// declaration order. Ids missing from the catalog are skipped.
func (c *Catalog) AllDependencies(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range c.defs[cur].DependsOn {
			if seen[dep] {
				continue
			}
			if _, ok := c.defs[dep]; !ok {
				continue
			}
			seen[dep] = true
			walk(dep)
		}
	}
	walk(id)
	delete(seen, id)
	return c.sortByDeclaration(seen)
}

func (c *Catalog) sortByDeclaration(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, id := range c.order {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}
