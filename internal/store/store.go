// Package store defines the Content Store: the relational state shared by the
// generation, judgement, consensus and notification components. Two
// implementations exist, postgres for production and memory for tests and
// local development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/studyhub/backend/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid input")
)

// SlotGroup selects which of an author's explanation slots an operation touches.
type SlotGroup int

const (
	GroupAll SlotGroup = iota
	GroupOverall
	GroupOptions
)

func (g SlotGroup) Contains(k models.SlotKey) bool {
	switch g {
	case GroupOverall:
		return k.IsOverall()
	case GroupOptions:
		return !k.IsOverall()
	default:
		return true
	}
}

// Queries is every operation available both on the store and inside a
// transaction opened with Store.InTx.
type Queries interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)

	CreateProblem(ctx context.Context, p *models.Problem) error
	GetProblem(ctx context.Context, id int64) (*models.Problem, error)
	// LockProblem blocks concurrent writers of the same problem until the
	// surrounding transaction ends.
	LockProblem(ctx context.Context, id int64) error
	// UpdateProblem rewrites title and body and replaces options and images.
	UpdateProblem(ctx context.Context, p *models.Problem) error
	DeleteProblem(ctx context.Context, id int64) error
	AddProblemLike(ctx context.Context, problemID, userID int64) (bool, int, error)
	RemoveProblemLike(ctx context.Context, problemID, userID int64) (bool, int, error)

	GetExplanation(ctx context.Context, id int64) (*models.Explanation, error)
	LockExplanation(ctx context.Context, id int64) (*models.Explanation, error)
	ListExplanations(ctx context.Context, problemID int64) ([]models.Explanation, error)
	AuthorExplanations(ctx context.Context, problemID int64, author models.Author) ([]models.Explanation, error)
	// SnapshotSlots captures like counts and likers per slot key for an
	// author's current slots, locking them against concurrent likes.
	SnapshotSlots(ctx context.Context, problemID int64, author models.Author) (map[models.SlotKey]models.SlotSnapshot, error)
	DeleteAuthorExplanations(ctx context.Context, problemID int64, author models.Author, group SlotGroup) (int, error)
	// DeleteOptionSlotsFrom drops every author's option slots whose index is
	// first or higher.
	DeleteOptionSlotsFrom(ctx context.Context, problemID int64, first int) (int, error)
	// SaveExplanation inserts a slot or, when (problem, author, slot) exists,
	// updates its content and images in place keeping its engagement.
	SaveExplanation(ctx context.Context, e *models.Explanation) error
	RestoreExplanationLikers(ctx context.Context, explanationID int64, userIDs []int64) error
	AddExplanationLike(ctx context.Context, explanationID, userID int64) (bool, int, error)
	RemoveExplanationLike(ctx context.Context, explanationID, userID int64) (bool, int, error)
	SetExplanationReview(ctx context.Context, explanationID int64, v models.Verdict) error

	GetModelAnswer(ctx context.Context, problemID int64, author models.Author) (*models.ModelAnswer, error)
	UpsertModelAnswer(ctx context.Context, m *models.ModelAnswer) error
	DeleteModelAnswer(ctx context.Context, problemID int64, author models.Author) error

	RecordAnswer(ctx context.Context, a *models.Answer) error
	SolverCount(ctx context.Context, problemID int64) (int, error)

	AddWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error)
	RemoveWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error)
	CountWrongFlags(ctx context.Context, explanationID int64) (int, error)
	HasWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error)

	GetJudgement(ctx context.Context, problemID int64, author models.Author) (*models.Judgement, error)
	// MergeJudgement creates or updates the record, overwriting only the
	// resolved fields of v.
	MergeJudgement(ctx context.Context, problemID int64, author models.Author, v models.Verdict) (*models.Judgement, error)

	// FindNotification looks a notification up by the creation key of ev
	// (see models.Event.Key) and locks it for update.
	FindNotification(ctx context.Context, ev models.Event) (*models.Notification, error)
	// InsertNotification reports false when a row with the same creation key
	// already exists.
	InsertNotification(ctx context.Context, n *models.Notification) (bool, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID int64, unseenOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationsSeen(ctx context.Context, recipientID int64, ids []int64) (int, error)

	// EnqueueTask reports false when identical work is already pending.
	EnqueueTask(ctx context.Context, t models.Task) (bool, error)
	TaskQueue
}

// TaskQueue is the consumer side of the background task table.
type TaskQueue interface {
	// ClaimTask returns nil when nothing is runnable. Tasks left running for
	// longer than staleAfter are handed out again.
	ClaimTask(ctx context.Context, staleAfter time.Duration) (*models.Task, error)
	CompleteTask(ctx context.Context, id int64) error
	RetryTask(ctx context.Context, id int64, errMsg string, runAfter time.Time) error
	FailTask(ctx context.Context, id int64, errMsg string) error
}

type Store interface {
	Queries
	// InTx runs fn inside one transaction. A non-nil error from fn rolls
	// everything back and is returned unchanged.
	InTx(ctx context.Context, fn func(q Queries) error) error
}
