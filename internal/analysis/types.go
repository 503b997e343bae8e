// Package analysis calls the upstream LLM that powers article analysis.
package analysis

import "context"

type Request struct {
	Content   string `json:"content"`
	SourceURL string `json:"source_url,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

type Technique struct {
	Name    string `json:"name"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Result is the structured verdict returned by the analyzer model.
type Result struct {
	Summary     string      `json:"summary"`
	Verdict     string      `json:"verdict"`
	BiasScore   float64     `json:"bias_score"`
	Credibility string      `json:"credibility"`
	Techniques  []Technique `json:"techniques,omitempty"`
	Provider    string      `json:"-"`
}

// Analyzer produces an analysis for a single article.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}
