package models

import (
	"encoding/json"
	"testing"
)

func TestVerdictMerge(t *testing.T) {
	base := Verdict{IsWrong: Bool(true), Confidence: Int(90)}

	got := base.Merge(Verdict{Reason: String("cites the wrong city")})
	if !got.Wrong() || *got.Confidence != 90 || *got.Reason != "cites the wrong city" {
		t.Errorf("merge with reason only: %+v", got)
	}

	got = got.Merge(Verdict{IsWrong: Bool(false)})
	if got.Wrong() {
		t.Error("explicit false should overwrite true")
	}
	if got.Confidence == nil || *got.Confidence != 90 {
		t.Error("unresolved confidence should be kept")
	}

	if got := base.Merge(Verdict{}); got != base {
		t.Errorf("empty merge changed the verdict: %+v", got)
	}
}

func TestVerdictLabel(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{Verdict{}, "unknown"},
		{Verdict{Reason: String("x")}, "unknown"},
		{Verdict{IsWrong: Bool(true)}, "wrong"},
		{Verdict{IsWrong: Bool(false)}, "ok"},
	}
	for _, tt := range tests {
		if got := tt.v.Label(); got != tt.want {
			t.Errorf("Label(%+v) = %q, want %q", tt.v, got, tt.want)
		}
	}
	if (Verdict{}).Resolved() {
		t.Error("zero verdict should be unresolved")
	}
}

func TestAuthorJSON(t *testing.T) {
	tests := []struct {
		author Author
		json   string
	}{
		{MachineAuthor(), "null"},
		{UserAuthor(12), "12"},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.author)
		if err != nil {
			t.Fatalf("marshal %v: %v", tt.author, err)
		}
		if string(b) != tt.json {
			t.Errorf("marshal %v = %s, want %s", tt.author, b, tt.json)
		}
		var back Author
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != tt.author {
			t.Errorf("round trip %v = %v", tt.author, back)
		}
	}
	if MachineAuthor().Ref() != nil {
		t.Error("machine author should store NULL")
	}
}

func TestSlotKeyUnmarshal(t *testing.T) {
	tests := map[string]SlotKey{
		"null": OverallSlot,
		"-3":   OverallSlot,
		"0":    OptionSlot(0),
		"4":    OptionSlot(4),
	}
	for in, want := range tests {
		var k SlotKey
		if err := json.Unmarshal([]byte(in), &k); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if k != want {
			t.Errorf("unmarshal %s = %v, want %v", in, k, want)
		}
	}
	if OverallSlot.Ref() != nil || *OptionSlot(2).Ref() != 2 {
		t.Error("Ref mismatch")
	}
}

func TestEventKey(t *testing.T) {
	actor := Int64(7)
	like := Event{RecipientID: 1, Type: NotifyProblemLike, ProblemID: 2, ActorID: actor, AIFlag: Bool(true)}
	if k := like.Key(); k.ActorID == nil || *k.ActorID != 7 || k.AIFlag != nil {
		t.Errorf("like key = %+v", k)
	}
	wrong := Event{RecipientID: 1, Type: NotifyExplanationWrong, ProblemID: 2, ActorID: actor, CrowdFlag: Bool(true)}
	if k := wrong.Key(); k.ActorID != nil || k.CrowdFlag != nil {
		t.Errorf("wrong key = %+v", k)
	}
}

func TestTaskSameWork(t *testing.T) {
	a := Task{Op: TaskJudgeExplanation, ProblemID: 1, ExplanationID: Int64(5)}
	b := Task{Op: TaskJudgeExplanation, ProblemID: 1, ExplanationID: Int64(5), Attempts: 3}
	c := Task{Op: TaskJudgeExplanation, ProblemID: 1, ExplanationID: Int64(6)}
	d := Task{Op: TaskJudgeBundle, ProblemID: 1, Author: UserAuthor(2)}
	e := Task{Op: TaskJudgeBundle, ProblemID: 1}

	if !a.SameWork(b) {
		t.Error("identical work should match regardless of bookkeeping")
	}
	if a.SameWork(c) || d.SameWork(e) || a.SameWork(Task{Op: TaskJudgeExplanation, ProblemID: 1}) {
		t.Error("different work should not match")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{User{Name: "Ada Lovelace", Username: "ada"}, "Ada L."},
		{User{Name: "  Grace  ", Username: "grace"}, "Grace"},
		{User{Name: "Jean Paul Émile", Username: "jp"}, "Jean É."},
		{User{Username: "anon"}, "anon"},
	}
	for _, tt := range tests {
		if got := tt.user.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.user.Name, got, tt.want)
		}
	}
}

func TestOptionLabelsAndCorrectIndexes(t *testing.T) {
	if OptionLabel(0) != "A" || OptionLabel(25) != "Z" || OptionLabel(26) != "Option 27" {
		t.Error("unexpected option labels")
	}
	p := Problem{Type: QuestionMultipleChoice, Options: []Option{{}, {IsCorrect: true}, {IsCorrect: true}}}
	got := p.CorrectIndexes()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("CorrectIndexes = %v", got)
	}
}
