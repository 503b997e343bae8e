package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// truncateArticle caps content at max bytes without splitting a multi-byte
// rune at the cut point.
func truncateArticle(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func buildAnalysisPrompt(content, sourceURL, locale string) string {
	if locale == "" {
		locale = "en"
	}
	sb := &strings.Builder{}
	sb.WriteString("You are a no-nonsense media literacy analyst. Assess the article below for bias, framing, and manipulation techniques. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"summary":string,"verdict":string,"bias_score":number,"credibility":"low"|"medium"|"high","techniques":[{"name":string,"excerpt":string}]}`)
	fmt.Fprintf(sb, ". bias_score runs 0 (neutral) to 1 (heavily slanted). Write summary and verdict in locale '%s', plain-spoken and direct.", locale)
	if sourceURL != "" {
		fmt.Fprintf(sb, " Article source: %s.", sourceURL)
	}
	sb.WriteString("\n\nArticle:\n")
	sb.WriteString(content)
	return sb.String()
}

func parseVerdict(raw string) (*Result, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return nil, errors.New("empty payload")
	}
	var decoded verdictPayload
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, err
	}
	if strings.TrimSpace(decoded.Summary) == "" {
		return nil, errors.New("missing summary")
	}
	res := &Result{
		Summary:     strings.TrimSpace(decoded.Summary),
		Verdict:     strings.TrimSpace(decoded.Verdict),
		BiasScore:   clampScore(coerceScore(decoded.BiasScore)),
		Credibility: normalizeCredibility(decoded.Credibility),
	}
	for _, t := range decoded.Techniques {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		res.Techniques = append(res.Techniques, Technique{
			Name:    name,
			Excerpt: strings.TrimSpace(t.Excerpt),
		})
	}
	return res, nil
}

// coerceScore tolerates models that emit the score as a string or a
// 0-100 integer instead of a 0-1 float.
func coerceScore(v any) float64 {
	switch n := v.(type) {
	case float64:
		if n > 1 {
			return n / 100
		}
		return n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return coerceScore(parsed)
	default:
		return 0
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func normalizeCredibility(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}

func extractJSONFragment(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
