package generator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/msageha/docflow/internal/model"
	dfyaml "github.com/msageha/docflow/internal/yaml"
)

// Generator produces one document and saves it at outputRef.
type Generator interface {
	GenerateAndSave(ctx context.Context, userRequest string, deps map[string]model.DocumentResult, outputRef, runID string) (model.DocumentResult, error)
}

// New picks the generator variant declared on def.
func New(def model.DocumentDefinition, backend Backend) (Generator, error) {
	if backend == nil {
		return nil, fmt.Errorf("document %s: backend is nil", def.ID)
	}
	base := base{def: def, backend: backend, now: time.Now}
	switch def.Generator {
	case model.GeneratorGeneric, "":
		return &Generic{base: base}, nil
	case model.GeneratorSpecial:
		return &Special{base: base}, nil
	default:
		return nil, fmt.Errorf("document %s: unknown generator %q", def.ID, def.Generator)
	}
}

// OutputRef is the path a document of a run is written to.
func OutputRef(outputDir, runID, documentID string) string {
	return filepath.Join(outputDir, runID, documentID+".md")
}

type base struct {
	def     model.DocumentDefinition
	backend Backend
	now     func() time.Time
}

func (b base) complete(ctx context.Context, prompt, outputRef string) (model.DocumentResult, error) {
	content, err := b.backend.Complete(ctx, prompt)
	if err != nil {
		return model.DocumentResult{}, fmt.Errorf("generate %s: %w", b.def.ID, err)
	}
	if err := dfyaml.AtomicWriteText(outputRef, content); err != nil {
		return model.DocumentResult{}, fmt.Errorf("save %s: %w", b.def.ID, err)
	}
	return model.DocumentResult{
		Content:     content,
		OutputRef:   outputRef,
		GeneratedAt: b.now().UTC(),
	}, nil
}

// Generic fills the document's template sections one heading at a time.
type Generic struct {
	base
}

func (g *Generic) GenerateAndSave(ctx context.Context, userRequest string, deps map[string]model.DocumentResult, outputRef, runID string) (model.DocumentResult, error) {
	var sb strings.Builder
	writeHeader(&sb, g.def, userRequest, runID)
	sections := g.def.TemplateSections
	if len(sections) == 0 {
		sections = g.def.RequiredSections
	}
	if len(sections) > 0 {
		sb.WriteString("\nWrite the document using exactly these markdown sections, in order:\n")
		for _, s := range sections {
			fmt.Fprintf(&sb, "## %s\n", s)
		}
	}
	writeDependencies(&sb, deps)
	return g.complete(ctx, sb.String(), outputRef)
}

// Special sends the whole request as one document prompt and leaves structure to the backend.
type Special struct {
	base
}

func (s *Special) GenerateAndSave(ctx context.Context, userRequest string, deps map[string]model.DocumentResult, outputRef, runID string) (model.DocumentResult, error) {
	var sb strings.Builder
	writeHeader(&sb, s.def, userRequest, runID)
	sb.WriteString("\nProduce the complete document in markdown. Choose the structure that best fits this document type.\n")
	if len(s.def.RequiredSections) > 0 {
		fmt.Fprintf(&sb, "It must include these sections: %s\n", strings.Join(s.def.RequiredSections, ", "))
	}
	writeDependencies(&sb, deps)
	return s.complete(ctx, sb.String(), outputRef)
}

func writeHeader(sb *strings.Builder, def model.DocumentDefinition, userRequest, runID string) {
	fmt.Fprintf(sb, "Document: %s (%s)\n", def.Name, def.ID)
	if def.Category != "" {
		fmt.Fprintf(sb, "Type: %s\n", def.Category)
	}
	fmt.Fprintf(sb, "Run: %s\n", runID)
	if def.MinWords > 0 {
		fmt.Fprintf(sb, "Length: at least %d words\n", def.MinWords)
	}
	fmt.Fprintf(sb, "\nRequest:\n%s\n", userRequest)
}

// writeDependencies appends prior documents in id order so prompts are reproducible.
func writeDependencies(sb *strings.Builder, deps map[string]model.DocumentResult) {
	if len(deps) == 0 {
		return
	}
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sb.WriteString("\nPreviously generated documents for context:\n")
	for _, id := range ids {
		fmt.Fprintf(sb, "\n<<< %s >>>\n%s\n", id, deps[id].Content)
	}
}

// Set maps document ids to their bound generator.
type Set map[string]Generator

// ForDefinitions binds a generator to every definition.
func ForDefinitions(defs []model.DocumentDefinition, backend Backend) (Set, error) {
	set := make(Set, len(defs))
	for _, def := range defs {
		g, err := New(def, backend)
		if err != nil {
			return nil, err
		}
		set[def.ID] = g
	}
	return set, nil
}
