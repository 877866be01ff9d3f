package judge

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/models"
)

const verdictFormat = `Respond with JSON only: {"is_wrong": true|false, "score": 0-100, "reason": "..."}
- is_wrong: true only if the content contains a factual error or a serious misunderstanding.
- score: your confidence in the verdict, 0 to 100.
- reason: two or three sentences summarising the main problem, or why it holds up.`

func BundleSystemPrompt() string {
	return `You are a strict reviewer of study material. You will see a problem and one author's
model answer, overall explanation and per-option explanations. Decide in a single verdict
whether that material, taken together, is wrong for the problem as stated.

Policy:
- If the model answer is correct, insufficient detail in the explanations alone does not make it wrong.
- If the problem or the material is too hard or ambiguous to verify, the verdict is not wrong.

` + verdictFormat
}

func ExplanationSystemPrompt() string {
	return `You are a strict reviewer of study material. Decide whether the explanation under review
contains a factual or logical error given the problem as stated.

Policy:
- An explanation that is brief but reaches the correct answer is not wrong.
- If the problem or the explanation is too hard or ambiguous to verify, the verdict is not wrong.

` + verdictFormat
}

var standaloneNumber = regexp.MustCompile(`\b\d+\b`)

// LabelOptionNumbers rewrites standalone numbers 1..n in a model answer to
// option labels, so "2" reads as "B".
func LabelOptionNumbers(answer string, n int) string {
	return standaloneNumber.ReplaceAllStringFunc(answer, func(s string) string {
		i, err := strconv.Atoi(s)
		if err != nil || i < 1 || i > n {
			return s
		}
		return models.OptionLabel(i - 1)
	})
}

func problemSections(b *strings.Builder, p *models.Problem, withCorrect bool) {
	llm.Section(b, "Title", p.Title)
	llm.Section(b, "Problem", p.Body)
	if !p.IsMultipleChoice() || len(p.Options) == 0 {
		return
	}
	llm.Section(b, "Options", llm.OptionLines(p.Options))
	if labels := llm.CorrectLabels(p); withCorrect && len(labels) > 0 {
		llm.Section(b, "Correct option", strings.Join(labels, ", "))
	}
}

// BuildBundlePrompt renders everything one author wrote for a problem.
func BuildBundlePrompt(p *models.Problem, modelAnswer *models.ModelAnswer, expls []models.Explanation) string {
	var b strings.Builder
	problemSections(&b, p, false)

	if modelAnswer != nil && strings.TrimSpace(modelAnswer.Content) != "" {
		answer := modelAnswer.Content
		if p.IsMultipleChoice() {
			answer = LabelOptionNumbers(answer, len(p.Options))
		}
		llm.Section(&b, "Author's model answer", answer)
	}

	var overall string
	perOption := map[int]string{}
	for _, e := range expls {
		if e.Slot.IsOverall() {
			overall = e.Content
		} else {
			perOption[int(e.Slot)] = e.Content
		}
	}
	llm.Section(&b, "Author's overall explanation", overall)

	if p.IsMultipleChoice() && len(p.Options) > 0 {
		var lines strings.Builder
		for i := range p.Options {
			lines.WriteString(models.OptionLabel(i) + ": " + strings.TrimSpace(perOption[i]) + "\n")
		}
		llm.Section(&b, "Author's explanation per option", lines.String())
	}
	return b.String()
}

func BuildExplanationPrompt(p *models.Problem, e *models.Explanation) string {
	var b strings.Builder
	problemSections(&b, p, true)
	if !e.Slot.IsOverall() {
		llm.Section(&b, "Explanation is about option", models.OptionLabel(int(e.Slot)))
	}
	llm.Section(&b, "Explanation under review", e.Content)
	return b.String()
}
