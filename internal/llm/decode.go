package llm

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/studyhub/backend/internal/models"
)

const maxReasonRunes = 2000

// Decoded is the result of reading structured output from a completion. OK
// means Value was populated; otherwise only Raw is meaningful.
type Decoded[T any] struct {
	Value T
	Raw   string
	OK    bool
}

func (d Decoded[T]) Parsed() (T, bool) {
	return d.Value, d.OK
}

func (d Decoded[T]) Unparsed() (string, bool) {
	return d.Raw, !d.OK
}

var fencedObject = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the JSON object out of a completion: the body of a
// fenced block if present, otherwise the span from the first '{' to the last
// '}'. Text with neither is returned unchanged.
func ExtractJSON(text string) string {
	if m := fencedObject.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	i, j := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if i != -1 && j != -1 && i < j {
		return text[i : j+1]
	}
	return text
}

func parseObject(text string) (gjson.Result, bool) {
	body := ExtractJSON(text)
	if !gjson.Valid(body) {
		return gjson.Result{}, false
	}
	obj := gjson.Parse(body)
	return obj, obj.IsObject()
}

// ── Generation ──────────────────────────────────────────

type Generation struct {
	ModelAnswer string
	Overall     string
	// Options[i] explains option i; empty entries are skipped on write.
	Options []string
}

// DecodeGeneration requires an object with a non-empty "overall" string.
func DecodeGeneration(text string) Decoded[Generation] {
	raw := strings.TrimSpace(text)
	obj, ok := parseObject(raw)
	if !ok {
		return Decoded[Generation]{Raw: raw}
	}

	overall := obj.Get("overall")
	if overall.Type != gjson.String || strings.TrimSpace(overall.Str) == "" {
		return Decoded[Generation]{Raw: raw}
	}

	gen := Generation{Overall: strings.TrimSpace(overall.Str)}
	if ma := obj.Get("model_answer"); ma.Type == gjson.String {
		gen.ModelAnswer = strings.TrimSpace(ma.Str)
	}
	if opts := obj.Get("options"); opts.IsArray() {
		for _, o := range opts.Array() {
			gen.Options = append(gen.Options, stringify(o))
		}
	}
	return Decoded[Generation]{Value: gen, Raw: raw, OK: true}
}

func stringify(r gjson.Result) string {
	if r.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(r.String())
}

// ── Verdict ─────────────────────────────────────────────

// DecodeVerdict reads {is_wrong, score, reason}. Fields of the wrong type are
// left unresolved, and a response that resolves nothing is Unparsed.
func DecodeVerdict(text string) Decoded[models.Verdict] {
	raw := strings.TrimSpace(text)
	obj, ok := parseObject(raw)
	if !ok {
		return Decoded[models.Verdict]{Raw: raw}
	}

	var v models.Verdict
	switch w := obj.Get("is_wrong"); w.Type {
	case gjson.True, gjson.False:
		v.IsWrong = models.Bool(w.Bool())
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(w.Str)) {
		case "true":
			v.IsWrong = models.Bool(true)
		case "false":
			v.IsWrong = models.Bool(false)
		}
	}
	if s := obj.Get("score"); s.Type == gjson.Number {
		score := int(math.Max(0, math.Min(100, math.Round(s.Num))))
		v.Confidence = &score
	}
	if r := obj.Get("reason"); r.Type == gjson.String {
		if reason := truncateRunes(strings.TrimSpace(r.Str), maxReasonRunes); reason != "" {
			v.Reason = &reason
		}
	}

	if !v.Resolved() {
		return Decoded[models.Verdict]{Raw: raw}
	}
	return Decoded[models.Verdict]{Value: v, Raw: raw, OK: true}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
