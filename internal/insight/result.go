package insight

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentflow/agentflow/internal/model"
)

// analysisResult is the fixed JSON shape the analyzer must return (§4.8
// step 4): summary, userIntent, frustrationPoints[], improvements[],
// followUpActions[], optional questions[], stats.
type analysisResult struct {
	Summary           string                  `json:"summary"`
	UserIntent        string                  `json:"userIntent"`
	FrustrationPoints []string                `json:"frustrationPoints"`
	Improvements      []string                `json:"improvements"`
	FollowUpActions   []model.FollowUpAction  `json:"followUpActions"`
	Questions         []string                `json:"questions,omitempty"`
	Stats             map[string]any          `json:"stats,omitempty"`
}

// Categories derives the Insight.Categories list from the follow-up
// actions' categories, deduplicated and in first-seen order.
func (r analysisResult) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range r.FollowUpActions {
		c := string(a.Category)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// parseAnalysisResult decodes the analyzer's final text as JSON, tolerating
// a surrounding markdown code fence (some chat models wrap JSON answers in
// ```json ... ``` even when told not to).
func parseAnalysisResult(text string) (analysisResult, error) {
	var out analysisResult
	cleaned := stripCodeFence(text)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, fmt.Errorf("insight: decode analyzer result: %w", err)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// renderMarkdown turns a parsed analysis result into the Insight.Content
// markdown body.
func renderMarkdown(r analysisResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Summary\n\n%s\n", r.Summary)

	if r.UserIntent != "" {
		fmt.Fprintf(&b, "\n## Intent\n\n%s\n", r.UserIntent)
	}
	if len(r.FrustrationPoints) > 0 {
		b.WriteString("\n## Friction\n\n")
		for _, p := range r.FrustrationPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(r.Improvements) > 0 {
		b.WriteString("\n## Suggested Improvements\n\n")
		for _, p := range r.Improvements {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(r.FollowUpActions) > 0 {
		b.WriteString("\n## Follow-up Actions\n\n")
		for _, a := range r.FollowUpActions {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", a.Priority, a.Category, a.Description)
		}
	}
	return b.String()
}
