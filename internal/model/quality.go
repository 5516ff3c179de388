package model

// QualityScore is the automated checker's verdict. Scores are 0-100.
type QualityScore struct {
	OverallScore       float64  `yaml:"overall_score" json:"overall_score"`
	WordCountScore     float64  `yaml:"word_count_score" json:"word_count_score"`
	SectionScore       float64  `yaml:"section_score" json:"section_score"`
	ReadabilityScore   float64  `yaml:"readability_score" json:"readability_score"`
	WordCount          int      `yaml:"word_count" json:"word_count"`
	WordCountPass      bool     `yaml:"word_count_pass" json:"word_count_pass"`
	SectionPass        bool     `yaml:"section_pass" json:"section_pass"`
	ReadabilityPass    bool     `yaml:"readability_pass" json:"readability_pass"`
	Passed             bool     `yaml:"passed" json:"passed"`
	MissingSections    []string `yaml:"missing_sections,omitempty" json:"missing_sections,omitempty"`
	AutoFailViolations []string `yaml:"auto_fail_violations,omitempty" json:"auto_fail_violations,omitempty"`
}

func (q QualityScore) AutoFail() bool {
	return len(q.AutoFailViolations) > 0
}

type PriorityImprovement struct {
	Area       string `yaml:"area" json:"area"`
	Issue      string `yaml:"issue" json:"issue"`
	Suggestion string `yaml:"suggestion" json:"suggestion"`
}

// StructuredFeedback is the reviewer's itemized critique. Score is 1-10.
type StructuredFeedback struct {
	Score                float64               `yaml:"score" json:"score"`
	Feedback             string                `yaml:"feedback" json:"feedback"`
	Suggestion           string                `yaml:"suggestion" json:"suggestion"`
	MissingSections      []string              `yaml:"missing_sections" json:"missing_sections"`
	Strengths            []string              `yaml:"strengths" json:"strengths"`
	Weaknesses           []string              `yaml:"weaknesses" json:"weaknesses"`
	PriorityImprovements []PriorityImprovement `yaml:"priority_improvements" json:"priority_improvements"`
}

// ValidationReport is the advisory outcome of merge validation.
type ValidationReport struct {
	Passed          bool     `yaml:"passed" json:"passed"`
	Warnings        []string `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	MissingSections []string `yaml:"missing_sections,omitempty" json:"missing_sections,omitempty"`
}

// QualityReport records what the review loop did to one document.
type QualityReport struct {
	AutomatedScore float64          `yaml:"automated_score" json:"automated_score"`
	ReviewScore    float64          `yaml:"review_score" json:"review_score"`
	AutoFail       bool             `yaml:"auto_fail" json:"auto_fail"`
	Overridden     bool             `yaml:"overridden" json:"overridden"`
	Improved       bool             `yaml:"improved" json:"improved"`
	Validation     ValidationReport `yaml:"validation" json:"validation"`
	Error          string           `yaml:"error,omitempty" json:"error,omitempty"`
}
