package models

import "time"

// Verdict is one evaluator's output. Nil fields are unresolved and never
// overwrite a stored value.
type Verdict struct {
	IsWrong    *bool   `json:"is_wrong"`
	Confidence *int    `json:"confidence"`
	Reason     *string `json:"reason"`
}

func (v Verdict) Resolved() bool {
	return v.IsWrong != nil || v.Confidence != nil || v.Reason != nil
}

func (v Verdict) Wrong() bool {
	return v.IsWrong != nil && *v.IsWrong
}

// Merge overlays the resolved fields of next onto v.
func (v Verdict) Merge(next Verdict) Verdict {
	if next.IsWrong != nil {
		v.IsWrong = next.IsWrong
	}
	if next.Confidence != nil {
		v.Confidence = next.Confidence
	}
	if next.Reason != nil {
		v.Reason = next.Reason
	}
	return v
}

// Label is used for metrics and logs.
func (v Verdict) Label() string {
	switch {
	case v.IsWrong == nil:
		return "unknown"
	case *v.IsWrong:
		return "wrong"
	default:
		return "ok"
	}
}

type Judgement struct {
	ProblemID int64  `json:"problem_id"`
	Author    Author `json:"author_id"`
	Verdict
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CrowdStatus struct {
	ExplanationID int64 `json:"explanation_id"`
	FlagCount     int   `json:"count"`
	SolverCount   int   `json:"solver_count"`
	Suspect       bool  `json:"crowd_suspect"`
	FlaggedByMe   bool  `json:"flagged_by_me"`
}
