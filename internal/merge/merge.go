// Package merge decides between original and improved document content and
// validates the result against the required sections of its type.
package merge

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
)

var (
	headingRe   = regexp.MustCompile(`^#+\s+(.+?)\s*#*\s*$`)
	numberingRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*\.?\s+`)
)

// Headings returns the markdown heading texts of content in order.
func Headings(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

func normalize(heading string) string {
	h := strings.ToLower(strings.TrimSpace(heading))
	return numberingRe.ReplaceAllString(h, "")
}

// MissingSections lists required sections with no heading containing their name.
func MissingSections(content string, required []string) []string {
	return MissingFromHeadings(Headings(content), required)
}

// MissingFromHeadings is MissingSections over already extracted headings.
func MissingFromHeadings(headings, required []string) []string {
	norm := make([]string, len(headings))
	for i, h := range headings {
		norm[i] = normalize(h)
	}
	var missing []string
	for _, req := range required {
		want := normalize(req)
		found := false
		for _, h := range norm {
			if strings.Contains(h, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, req)
		}
	}
	return missing
}

// Decision names the branch of the merge rule that chose the content.
type Decision string

const (
	DecisionExpanded Decision = "improved_expanded" // longer and structurally intact
	DecisionIntact   Decision = "improved_intact"   // structurally intact
	DecisionDegraded Decision = "improved_degraded" // lost sections, used anyway
)

// Outcome is the merged content and how it was chosen.
type Outcome struct {
	Content          string
	Decision         Decision
	LengthRatio      float64
	OriginalSections int
	ImprovedSections int
	Report           model.ValidationReport
}

// Merger applies the length and section-retention rule.
type Merger struct {
	cfg      model.MergeConfig
	profiles model.Profiles
	logger   *logging.Logger
}

func New(cfg model.MergeConfig, profiles model.Profiles, logger *logging.Logger) *Merger {
	return &Merger{cfg: cfg, profiles: profiles, logger: logger.With("merge")}
}

// Merge always finalizes the improved content. A structural loss is only
// reported as a warning, and missing required sections never roll back.
func (m *Merger) Merge(documentID, docType, original, improved string) Outcome {
	origHeadings := Headings(original)
	impHeadings := Headings(improved)

	out := Outcome{
		Content:          improved,
		LengthRatio:      lengthRatio(original, improved),
		OriginalSections: len(origHeadings),
		ImprovedSections: len(impHeadings),
	}

	retained := float64(out.ImprovedSections) >= m.cfg.SectionRetention*float64(out.OriginalSections)
	var warnings []string
	switch {
	case out.LengthRatio > m.cfg.LengthRatio && retained:
		out.Decision = DecisionExpanded
	case retained:
		out.Decision = DecisionIntact
	default:
		out.Decision = DecisionDegraded
		w := fmt.Sprintf("improved content is materially shorter or less structured: length_ratio=%.2f sections=%d/%d",
			out.LengthRatio, out.ImprovedSections, out.OriginalSections)
		warnings = append(warnings, w)
		m.logger.Warnf("document=%s %s", documentID, w)
	}

	out.Report = m.validate(documentID, docType, impHeadings)
	out.Report.Warnings = append(warnings, out.Report.Warnings...)
	m.logger.Debugf("merged document=%s decision=%s length_ratio=%.2f", documentID, out.Decision, out.LengthRatio)
	return out
}

// Validate checks content against the required sections of docType.
func (m *Merger) Validate(documentID, docType, content string) model.ValidationReport {
	return m.validate(documentID, docType, Headings(content))
}

func (m *Merger) validate(documentID, docType string, headings []string) model.ValidationReport {
	report := model.ValidationReport{Passed: true}
	required := m.profiles.For(documentID, docType).RequiredSections
	if len(required) == 0 {
		return report
	}
	missing := MissingFromHeadings(headings, required)
	if len(missing) == 0 {
		return report
	}
	report.Passed = false
	report.MissingSections = missing
	for _, s := range missing {
		report.Warnings = append(report.Warnings, fmt.Sprintf("missing required section %q", s))
	}
	m.logger.Errorf("document=%s type=%s missing required sections: %s", documentID, docType, strings.Join(missing, ", "))
	return report
}

func lengthRatio(original, improved string) float64 {
	o := utf8.RuneCountInString(original)
	if o == 0 {
		if utf8.RuneCountInString(improved) == 0 {
			return 1
		}
		return float64(utf8.RuneCountInString(improved))
	}
	return float64(utf8.RuneCountInString(improved)) / float64(o)
}
