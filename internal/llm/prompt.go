package llm

import (
	"fmt"
	"strings"

	"github.com/studyhub/backend/internal/models"
)

// Section appends a bracketed heading and its body to a prompt.
func Section(b *strings.Builder, title, body string) {
	fmt.Fprintf(b, "[%s]\n%s\n\n", title, strings.TrimSpace(body))
}

// OptionLines renders options one per line as "A) text".
func OptionLines(opts []models.Option) string {
	var b strings.Builder
	for i, o := range opts {
		fmt.Fprintf(&b, "%s) %s\n", models.OptionLabel(i), strings.TrimSpace(o.Content))
	}
	return b.String()
}

func CorrectLabels(p *models.Problem) []string {
	var labels []string
	for _, i := range p.CorrectIndexes() {
		labels = append(labels, models.OptionLabel(i))
	}
	return labels
}
