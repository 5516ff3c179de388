package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/msageha/docflow/internal/generator"
	"github.com/msageha/docflow/internal/model"
)

// Reviewer produces structured feedback seeded with the automated score.
type Reviewer interface {
	StructuredFeedback(ctx context.Context, content, docType string, automated model.QualityScore) (model.StructuredFeedback, error)
}

// Improver rewrites content according to feedback.
type Improver interface {
	Improve(ctx context.Context, original, docType, feedbackText string, fb model.StructuredFeedback) (string, error)
}

var ErrNoFeedback = errors.New("reviewer response contains no JSON object")

// BackendReviewer asks the backend for a JSON StructuredFeedback.
type BackendReviewer struct {
	backend generator.Backend
}

func NewBackendReviewer(backend generator.Backend) *BackendReviewer {
	return &BackendReviewer{backend: backend}
}

func (r *BackendReviewer) StructuredFeedback(ctx context.Context, content, docType string, automated model.QualityScore) (model.StructuredFeedback, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review the following %s document and reply with one JSON object with keys\n", docType)
	sb.WriteString(`score (1-10), feedback, suggestion, missing_sections, strengths, weaknesses, priority_improvements (list of {area, issue, suggestion}).` + "\n")
	fmt.Fprintf(&sb, "\nAutomated checks: overall=%.1f word_count=%.1f sections=%.1f readability=%.1f\n",
		automated.OverallScore, automated.WordCountScore, automated.SectionScore, automated.ReadabilityScore)
	if len(automated.MissingSections) > 0 {
		fmt.Fprintf(&sb, "Missing sections: %s\n", strings.Join(automated.MissingSections, ", "))
	}
	if automated.AutoFail() {
		fmt.Fprintf(&sb, "Rule violations (treat as failures): %s\n", strings.Join(automated.AutoFailViolations, "; "))
	}
	fmt.Fprintf(&sb, "\nDocument:\n%s\n", content)

	reply, err := r.backend.Complete(ctx, sb.String())
	if err != nil {
		return model.StructuredFeedback{}, fmt.Errorf("review: %w", err)
	}
	fb, err := ParseFeedback(reply)
	if err != nil {
		return model.StructuredFeedback{}, fmt.Errorf("review: %w", err)
	}
	return fb, nil
}

// ParseFeedback decodes the first JSON object found in reply. The score is clamped to 1-10.
func ParseFeedback(reply string) (model.StructuredFeedback, error) {
	var fb model.StructuredFeedback
	start := strings.Index(reply, "{")
	if start < 0 {
		return fb, ErrNoFeedback
	}
	dec := json.NewDecoder(strings.NewReader(reply[start:]))
	if err := dec.Decode(&fb); err != nil {
		return fb, fmt.Errorf("decode feedback: %w", err)
	}
	switch {
	case fb.Score < 1:
		fb.Score = 1
	case fb.Score > 10:
		fb.Score = 10
	}
	return fb, nil
}

// BackendImprover asks the backend to rewrite the document.
type BackendImprover struct {
	backend generator.Backend
}

func NewBackendImprover(backend generator.Backend) *BackendImprover {
	return &BackendImprover{backend: backend}
}

func (i *BackendImprover) Improve(ctx context.Context, original, docType, feedbackText string, fb model.StructuredFeedback) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Improve the following %s document. Keep its existing markdown sections and address the review below.\n", docType)
	sb.WriteString("Reply with the complete revised document only.\n\n")
	sb.WriteString(feedbackText)
	if fb.Suggestion != "" {
		fmt.Fprintf(&sb, "\nOverall suggestion: %s\n", fb.Suggestion)
	}
	fmt.Fprintf(&sb, "\nDocument:\n%s\n", original)

	improved, err := i.backend.Complete(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("improve: %w", err)
	}
	improved = strings.TrimSpace(improved)
	if improved == "" {
		return "", errors.New("improve: empty content")
	}
	return improved, nil
}

const maxPriorities = 5

// FeedbackText renders feedback for the improver: score, feedback, missing
// sections, weaknesses and at most five priority improvements.
func FeedbackText(fb model.StructuredFeedback) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Score: %.1f/10\n", fb.Score)
	if fb.Feedback != "" {
		fmt.Fprintf(&sb, "Feedback: %s\n", fb.Feedback)
	}
	if len(fb.MissingSections) > 0 {
		sb.WriteString("Missing sections:\n")
		for _, s := range fb.MissingSections {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	if len(fb.Weaknesses) > 0 {
		sb.WriteString("Weaknesses:\n")
		for _, w := range fb.Weaknesses {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	if len(fb.PriorityImprovements) > 0 {
		sb.WriteString("Priority improvements:\n")
		for i, p := range fb.PriorityImprovements {
			if i == maxPriorities {
				break
			}
			fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, p.Area, p.Issue, p.Suggestion)
		}
	}
	return sb.String()
}
