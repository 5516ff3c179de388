package quality

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/msageha/docflow/internal/model"
)

// compiledRule is an auto-fail rule bound to its doc types.
type compiledRule struct {
	model.AutoFailRule
	docTypes map[string]bool
	minWords int
}

func compileRules(rules []model.AutoFailRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{AutoFailRule: r}
		if len(r.DocTypes) > 0 {
			cr.docTypes = make(map[string]bool, len(r.DocTypes))
			for _, t := range r.DocTypes {
				cr.docTypes[t] = true
			}
		}
		switch r.Type {
		case "contains", "not_contains", "section_present", "section_absent":
			if strings.TrimSpace(r.Value) == "" {
				return nil, fmt.Errorf("auto-fail rule %s: value must not be empty", r.ID)
			}
		case "min_words":
			n, err := strconv.Atoi(strings.TrimSpace(r.Value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("auto-fail rule %s: min_words value %q is not a count", r.ID, r.Value)
			}
			cr.minWords = n
		default:
			return nil, fmt.Errorf("auto-fail rule %s: unknown type %q", r.ID, r.Type)
		}
		out = append(out, cr)
	}
	return out, nil
}

func (r compiledRule) appliesTo(docType string) bool {
	return r.docTypes == nil || r.docTypes[docType]
}

// violated reports whether the rule's failure condition holds for the document.
func (r compiledRule) violated(d *analysis) bool {
	switch r.Type {
	case "contains":
		return strings.Contains(d.lower, strings.ToLower(r.Value))
	case "not_contains":
		return !strings.Contains(d.lower, strings.ToLower(r.Value))
	case "section_present":
		return d.hasSection(r.Value)
	case "section_absent":
		return !d.hasSection(r.Value)
	case "min_words":
		return d.words < r.minWords
	}
	return false
}

func (r compiledRule) describe() string {
	if r.Description != "" {
		return fmt.Sprintf("%s: %s", r.ID, r.Description)
	}
	return fmt.Sprintf("%s: %s %q", r.ID, r.Type, r.Value)
}
