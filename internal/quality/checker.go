// Package quality scores generated documents and runs the review and
// improvement loop over them.
package quality

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/docflow/internal/merge"
	"github.com/msageha/docflow/internal/model"
)

// Checker computes an automated score for content of one document.
type Checker interface {
	Check(ctx context.Context, content, documentID, docType string) (model.QualityScore, error)
}

const (
	readableSentenceWords   = 20.0
	unreadableSentenceWords = 60.0
)

var (
	sentenceEndRe = regexp.MustCompile(`[.!?。！？]+`)
	fenceRe       = regexp.MustCompile("(?s)```.*?```")
)

// HeuristicChecker scores word count, section coverage and readability and
// evaluates auto-fail rules. Results are cached and scoring runs on a Pool.
type HeuristicChecker struct {
	cfg      model.QualityConfig
	profiles model.Profiles
	rules    []compiledRule
	cache    *ResultCache
	group    singleflight.Group
	pool     *Pool
}

func NewHeuristicChecker(cfg model.QualityConfig, profiles model.Profiles) (*HeuristicChecker, error) {
	rules, err := compileRules(cfg.AutoFail)
	if err != nil {
		return nil, err
	}
	return &HeuristicChecker{
		cfg:      cfg,
		profiles: profiles,
		rules:    rules,
		cache:    NewResultCache(cfg.CacheSize, time.Duration(cfg.CacheTTLSec)*time.Second),
		pool:     NewPool(cfg.Workers),
	}, nil
}

func (c *HeuristicChecker) Cache() *ResultCache { return c.cache }
func (c *HeuristicChecker) Pool() *Pool         { return c.pool }

func (c *HeuristicChecker) Check(ctx context.Context, content, documentID, docType string) (model.QualityScore, error) {
	key := CacheKey(documentID, docType, content)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	// The shared computation is detached from the caller that started it;
	// every caller stops waiting on its own context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		var score model.QualityScore
		if err := c.pool.Do(shared, func() { score = c.Score(content, documentID, docType) }); err != nil {
			return nil, err
		}
		c.cache.Set(key, score)
		return score, nil
	})
	select {
	case <-ctx.Done():
		return model.QualityScore{}, fmt.Errorf("quality check: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return model.QualityScore{}, fmt.Errorf("quality check: %w", r.Err)
		}
		return copyScore(r.Val.(model.QualityScore)), nil
	}
}

// Score computes the automated score synchronously.
func (c *HeuristicChecker) Score(content, documentID, docType string) model.QualityScore {
	d := analyze(content)
	profile := c.profiles.For(documentID, docType)
	minWords := profile.MinWords
	if minWords <= 0 {
		minWords = c.cfg.MinWords
	}

	s := model.QualityScore{WordCount: d.words}
	s.WordCountScore = wordCountScore(d.words, minWords)
	s.SectionScore, s.MissingSections = d.coverage(profile.RequiredSections)
	s.ReadabilityScore = readabilityScore(d.words, d.sentences)

	w := c.cfg.Weights
	total := w.WordCount + w.Sections + w.Readability
	if total > 0 {
		s.OverallScore = round1((s.WordCountScore*w.WordCount + s.SectionScore*w.Sections + s.ReadabilityScore*w.Readability) / total)
	}
	s.WordCountPass = s.WordCountScore >= c.cfg.PassScore
	s.SectionPass = s.SectionScore >= c.cfg.PassScore
	s.ReadabilityPass = s.ReadabilityScore >= c.cfg.PassScore

	for _, r := range c.rules {
		if r.appliesTo(docType) && r.violated(d) {
			s.AutoFailViolations = append(s.AutoFailViolations, r.describe())
		}
	}
	s.Passed = s.WordCountPass && s.SectionPass && s.ReadabilityPass && !s.AutoFail()
	return s
}

// analysis is the parsed view of one document shared by scores and rules.
type analysis struct {
	lower     string
	headings  []string
	words     int
	sentences int
}

func analyze(content string) *analysis {
	prose := fenceRe.ReplaceAllString(content, " ")
	var body []string
	for _, line := range strings.Split(prose, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		body = append(body, line)
	}
	text := strings.Join(body, "\n")

	d := &analysis{
		lower:    strings.ToLower(content),
		headings: merge.Headings(content),
		words:    len(strings.Fields(text)),
	}
	for _, part := range sentenceEndRe.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			d.sentences++
		}
	}
	return d
}

func (d *analysis) hasSection(name string) bool {
	return len(merge.MissingFromHeadings(d.headings, []string{name})) == 0
}

func (d *analysis) coverage(required []string) (float64, []string) {
	if len(required) == 0 {
		return 100, nil
	}
	missing := merge.MissingFromHeadings(d.headings, required)
	found := len(required) - len(missing)
	return round1(float64(found) / float64(len(required)) * 100), missing
}

func wordCountScore(words, minWords int) float64 {
	if minWords <= 0 {
		return 100
	}
	return round1(math.Min(100, float64(words)/float64(minWords)*100))
}

// readabilityScore is 100 up to 20 words per sentence and falls linearly to 0 at 60.
func readabilityScore(words, sentences int) float64 {
	if words == 0 || sentences == 0 {
		return 0
	}
	avg := float64(words) / float64(sentences)
	switch {
	case avg <= readableSentenceWords:
		return 100
	case avg >= unreadableSentenceWords:
		return 0
	default:
		return round1(100 * (unreadableSentenceWords - avg) / (unreadableSentenceWords - readableSentenceWords))
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
