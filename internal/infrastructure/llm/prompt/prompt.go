// Package prompt renders packed evidence into generation prompts shared by
// every LLM adapter.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const System = `You answer questions strictly from the numbered context passages.
Cite passages inline as [n]. If the passages do not contain the answer, say so directly.
Never invent facts that are not in the context.`

// Answer builds the user turn: the question followed by numbered passages in rank order.
func Answer(question string, contexts []domain.FusedResult) string {
	var b strings.Builder
	for i, c := range contexts {
		title := c.Title()
		if title == "" {
			title = c.ID
		}
		fmt.Fprintf(&b, "[%d] %s (score=%.3f)\n%s\n\n", i+1, title, c.FinalScore, strings.TrimSpace(c.Content))
	}

	return fmt.Sprintf(`Question:
%s

Context:
%s`, strings.TrimSpace(question), b.String())
}

// Combined joins the system instruction and user turn for completion-style APIs.
func Combined(question string, contexts []domain.FusedResult) string {
	return System + "\n\n" + Answer(question, contexts)
}
