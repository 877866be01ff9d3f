package generation

import (
	"fmt"
	"strings"

	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/models"
)

func SystemPrompt() string {
	return `You are an experienced tutor writing study explanations for quiz problems. Your explanations are
read by students right after they answer, so they must be accurate, concise and self-contained.

EXPLANATIONS:
- The overall explanation walks through how to reach the correct answer in 3-6 sentences
- For multiple-choice problems, write one explanation per option in the order given: why the option is
  correct, or the specific reason it is wrong
- Never contradict the correct option(s) you are given
- Refer to options by their labels (A, B, C...), never by number

MODEL ANSWER:
- For multiple-choice problems, the label(s) of the correct option(s)
- For free-response problems, a short complete answer a strong student would give

You must respond with valid JSON only. No markdown, no explanation outside the JSON.`
}

// BuildUserPrompt renders a problem for generation. The correct labels are
// included so the model answer agrees with the stored key.
func BuildUserPrompt(p *models.Problem) string {
	var b strings.Builder
	llm.Section(&b, "Title", p.Title)
	llm.Section(&b, "Problem", p.Body)

	if !p.IsMultipleChoice() || len(p.Options) == 0 {
		b.WriteString(`Respond with this exact JSON structure:
{
  "model_answer": "...",
  "overall": "..."
}`)
		return b.String()
	}

	llm.Section(&b, "Options", llm.OptionLines(p.Options))
	if labels := llm.CorrectLabels(p); len(labels) > 0 {
		llm.Section(&b, "Correct option", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&b, `Respond with this exact JSON structure:
{
  "model_answer": "...",
  "overall": "...",
  "options": ["...", ...]
}

Requirements:
- "options" has exactly %d entries, one per option in the order listed above`, len(p.Options))
	return b.String()
}

func maxTokens(p *models.Problem) int {
	if p.IsMultipleChoice() {
		return 700
	}
	return 500
}
