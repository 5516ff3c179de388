package model

import "strings"

// GeneratorKind selects the generator variant bound to a document at catalog-load time.
type GeneratorKind string

const (
	GeneratorGeneric GeneratorKind = "generic"
	GeneratorSpecial GeneratorKind = "special"
)

// DocumentDefinition is one catalog entry. Immutable once the catalog is loaded.
type DocumentDefinition struct {
	ID               string        `yaml:"id"`
	Name             string        `yaml:"name"`
	Category         string        `yaml:"category"`
	Generator        GeneratorKind `yaml:"generator,omitempty"`
	DependsOn        []string      `yaml:"depends_on,omitempty"`
	RequiredSections []string      `yaml:"required_sections,omitempty"`
	TemplateSections []string      `yaml:"template_sections,omitempty"`
	MinWords         int           `yaml:"min_words,omitempty"`
}

// DocType is the document's type for config-level sections and auto-fail rule
// filters. Category wins over id.
func (d DocumentDefinition) DocType() string {
	if d.Category != "" {
		return d.Category
	}
	return d.ID
}

// ExecutionPlan lists document ids so that every id appears after all its dependencies.
type ExecutionPlan []string

// Positions maps each id to its index in the plan.
func (p ExecutionPlan) Positions() map[string]int {
	pos := make(map[string]int, len(p))
	for i, id := range p {
		pos[id] = i
	}
	return pos
}

func (p ExecutionPlan) Contains(id string) bool {
	for _, v := range p {
		if v == id {
			return true
		}
	}
	return false
}

// TypeProfile is the quality expectation for one document.
type TypeProfile struct {
	RequiredSections []string
	MinWords         int
}

// Profiles maps document ids, and config-level type keys, to profiles.
type Profiles map[string]TypeProfile

// For returns the profile of documentID, falling back to the docType entry.
func (p Profiles) For(documentID, docType string) TypeProfile {
	if prof, ok := p[documentID]; ok {
		return prof
	}
	return p[docType]
}

// TypeProfiles builds one profile per catalog document. A document's profile
// combines the config sections for its category and for its id with its own
// sections, in first-seen order without duplicates. Sections declared by other
// documents of the same category are never included. Config keys keep a
// profile of their own for documents looked up by type only.
func TypeProfiles(cfg QualityConfig, defs []DocumentDefinition) Profiles {
	out := make(Profiles)
	for key, sections := range cfg.RequiredSections {
		out[key] = TypeProfile{RequiredSections: appendSections(nil, sections), MinWords: cfg.MinWords}
	}
	for _, d := range defs {
		var sections []string
		if d.Category != "" && d.Category != d.ID {
			sections = appendSections(sections, cfg.RequiredSections[d.Category])
		}
		sections = appendSections(sections, cfg.RequiredSections[d.ID])
		sections = appendSections(sections, d.RequiredSections)
		minWords := d.MinWords
		if minWords <= 0 {
			minWords = cfg.MinWords
		}
		out[d.ID] = TypeProfile{RequiredSections: sections, MinWords: minWords}
	}
	return out
}

func appendSections(dst, sections []string) []string {
	for _, s := range sections {
		if !containsFold(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
