package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"keisha/internal/domain"
)

const (
	geminiDefaultTimeout = 30 * time.Second
	geminiProviderName   = "gemini"

	maxArticleBytes = 64 * 1024
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiAnalyzer calls a Gemini-style generateContent endpoint and parses
// the model's JSON verdict. Quota rejections from the upstream are surfaced
// as domain.ErrLimitExceeded so enforcement can route them.
type GeminiAnalyzer struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type verdictPayload struct {
	Summary     string `json:"summary"`
	Verdict     string `json:"verdict"`
	BiasScore   any    `json:"bias_score"`
	Credibility string `json:"credibility"`
	Techniques  []struct {
		Name    string `json:"name"`
		Excerpt string `json:"excerpt"`
	} `json:"techniques"`
}

func NewGeminiAnalyzer(opts GeminiOptions) (*GeminiAnalyzer, error) {
	if opts.APIKey == "" {
		return nil, errors.New("analysis: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiAnalyzer{
		apiKey:  opts.APIKey,
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, errors.New("analysis: article content is required")
	}
	content = truncateArticle(content, maxArticleBytes)
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: buildAnalysisPrompt(content, req.SourceURL, req.Locale),
			}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.3,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("analysis: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return nil, fmt.Errorf("analysis: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderFailure, err)
	}
	if quotaRejection(resp.StatusCode, body) {
		return nil, fmt.Errorf("%w: upstream quota exhausted", domain.ErrLimitExceeded)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: upstream status %d", domain.ErrProviderFailure, resp.StatusCode)
	}

	var out geminiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailure, err)
	}
	text := extractText(out)
	if text == "" {
		return nil, fmt.Errorf("%w: empty candidate text", domain.ErrProviderFailure)
	}
	parsed, err := parseVerdict(text)
	if err != nil {
		return nil, fmt.Errorf("%w: parse verdict: %v", domain.ErrProviderFailure, err)
	}
	parsed.Provider = geminiProviderName
	return parsed, nil
}

func (g *GeminiAnalyzer) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

// quotaRejection recognizes the upstream's quota errors: a 429 status, or
// an error body carrying RESOURCE_EXHAUSTED / usage-limit wording.
func quotaRejection(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status < 300 {
		return false
	}
	var out geminiResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Error == nil {
		return false
	}
	if out.Error.Status == "RESOURCE_EXHAUSTED" {
		return true
	}
	msg := strings.ToUpper(out.Error.Message)
	return strings.Contains(msg, "USAGE_LIMIT_EXCEEDED") || strings.Contains(msg, "QUOTA")
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}
