package insight

import (
	"fmt"
	"strings"

	"github.com/agentflow/agentflow/internal/model"
)

const analysisSystemPrompt = `You are an engineering-productivity analyst reviewing a single developer's
recent AI-agent coding sessions. You have a query_store tool (read-only SQL
over the sessions/events tables) and a describe_schema tool. Use them to
pull the events you need, then respond with a single JSON object and
nothing else: {"summary": string, "userIntent": string,
"frustrationPoints": [string], "improvements": [string], "followUpActions":
[{"description": string, "priority": "low"|"medium"|"high", "category":
"tooling"|"workflow"|"knowledge"|"other"}], "questions": [string]
(optional), "stats": object (optional)}. Only ask a question when you
genuinely cannot form a confident recommendation without more context from
the user.`

// initialAnalysisPrompt builds the §4.8 step 4 user turn for a fresh batch
// analysis of one user's activity window.
func initialAnalysisPrompt(userID string, windowStart, windowEnd int64) string {
	return fmt.Sprintf(
		"Analyze user %q's coding sessions with events between timestamp %d and %d (ms since epoch). "+
			"Query the store for the relevant sessions and events before answering.",
		userID, windowStart, windowEnd)
}

// refinementPrompt builds the §4.8 step 7 user turn: the original window
// plus every question asked and its answer so far.
func refinementPrompt(in model.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You previously analyzed user %q's sessions between timestamp %d and %d and produced this summary:\n\n%s\n\n",
		in.UserID, in.WindowStart, in.WindowEnd, in.Content)
	b.WriteString("The user has answered your follow-up questions:\n\n")
	for _, q := range in.Questions {
		if q.AnsweredAt == nil {
			continue
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", q.Text, q.Answer)
	}
	b.WriteString("Incorporate these answers and produce a refined analysis as the same JSON object. " +
		"Only include \"questions\" if something essential is still unclear.")
	return b.String()
}
