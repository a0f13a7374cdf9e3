package orchestrator

import "strings"

// FollowUpCount is the number of suggested questions sent to the caller
const FollowUpCount = 3

const defaultRefusal = "抱歉，我只能回答投資理財相關的問題。"

// fillerQuestions pad a short follow-up list
var fillerQuestions = []string{
	"可以舉一個實際的例子說明嗎？",
	"這對一般投資人有什麼風險？",
	"有哪些相關的投資工具可以參考？",
}

type guardrailResult struct {
	IsInvestmentQuestion bool   `json:"is_investment_question"`
	RefusalAnswer        string `json:"refusal_answer"`
}

type backgroundResult struct {
	UserBackground string `json:"user_background"`
	Intent         string `json:"intent"`
}

type followUpResult struct {
	FollowupQuestions []string `json:"followup_questions"`
}

// backgroundNote renders the extracted background as per-run instructions
func backgroundNote(b *backgroundResult) string {
	if b == nil || strings.TrimSpace(b.UserBackground) == "" {
		return ""
	}
	return "User background (use it to tailor the answer, do not repeat it):\n" + strings.TrimSpace(b.UserBackground)
}

// normalizeFollowUps returns exactly FollowUpCount distinct non-blank questions
func normalizeFollowUps(questions []string) []string {
	out := make([]string, 0, FollowUpCount)
	seen := make(map[string]bool, FollowUpCount)
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] || len(out) == FollowUpCount {
			return
		}
		seen[q] = true
		out = append(out, q)
	}

	for _, q := range questions {
		add(q)
	}
	for _, q := range fillerQuestions {
		add(q)
	}
	return out
}
