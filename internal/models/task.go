package models

import "time"

type TaskOp string

const (
	TaskGenerate         TaskOp = "generate"
	TaskRegenerate       TaskOp = "regenerate"
	TaskJudgeBundle      TaskOp = "judge_bundle"
	TaskJudgeExplanation TaskOp = "judge_explanation"
	TaskJudgeAll         TaskOp = "judge_all"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
	TaskSuperseded TaskStatus = "superseded"
)

// Task is one unit of background work. Handlers must be idempotent: a task
// may be delivered more than once.
type Task struct {
	ID            int64      `json:"id"`
	Op            TaskOp     `json:"op"`
	ProblemID     int64      `json:"problem_id"`
	Author        Author     `json:"author_id"`
	ExplanationID *int64     `json:"explanation_id,omitempty"`
	Status        TaskStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	RunAfter      time.Time  `json:"run_after"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SameWork reports whether two tasks would do identical work.
func (t Task) SameWork(o Task) bool {
	if t.Op != o.Op || t.ProblemID != o.ProblemID || t.Author != o.Author {
		return false
	}
	if (t.ExplanationID == nil) != (o.ExplanationID == nil) {
		return false
	}
	return t.ExplanationID == nil || *t.ExplanationID == *o.ExplanationID
}
