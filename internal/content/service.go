// Package content implements the foreground write paths: problems,
// explanations, model answers, likes and answers. Each write runs in one
// transaction that also enqueues the background work it triggers.
package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/studyhub/backend/internal/jobs"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store"
)

const (
	minOptions = 2
	maxOptions = 26
)

type Service struct {
	store    store.Store
	sched    *jobs.Scheduler
	notifier *notify.Dispatcher
	log      *logger.Logger
}

func NewService(st store.Store, sched *jobs.Scheduler, n *notify.Dispatcher, log *logger.Logger) *Service {
	return &Service{
		store:    st,
		sched:    sched,
		notifier: n,
		log:      log.With("component", "content"),
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, store.ErrInvalid)
}

// write runs fn in a transaction and wakes the worker pool once it commits.
func (s *Service) write(ctx context.Context, fn func(q store.Queries) error) error {
	if err := s.store.InTx(ctx, fn); err != nil {
		return err
	}
	s.sched.Wake()
	return nil
}

// ── Problems ────────────────────────────────────────────

func (s *Service) GetProblem(ctx context.Context, id int64) (*models.Problem, error) {
	return s.store.GetProblem(ctx, id)
}

func validateOptions(qtype models.QuestionType, opts []models.OptionInput) ([]models.Option, error) {
	if qtype != models.QuestionMultipleChoice {
		if len(opts) > 0 {
			return nil, invalid("free-response problems have no options")
		}
		return nil, nil
	}
	if len(opts) < minOptions || len(opts) > maxOptions {
		return nil, invalid(fmt.Sprintf("multiple-choice problems need %d to %d options", minOptions, maxOptions))
	}
	out := make([]models.Option, 0, len(opts))
	correct := 0
	for _, o := range opts {
		text := strings.TrimSpace(o.Content)
		if text == "" {
			return nil, invalid("option content is required")
		}
		if o.IsCorrect {
			correct++
		}
		out = append(out, models.Option{Content: text, IsCorrect: o.IsCorrect})
	}
	if correct == 0 {
		return nil, invalid("at least one option must be correct")
	}
	return out, nil
}

// CreateProblem stores a problem with whatever the creator wrote alongside
// it, then queues machine generation and a review of the creator's material.
func (s *Service) CreateProblem(ctx context.Context, userID int64, req models.CreateProblemRequest) (*models.Problem, error) {
	title, body := strings.TrimSpace(req.Title), strings.TrimSpace(req.Body)
	if title == "" || body == "" {
		return nil, invalid("title and body are required")
	}
	if !models.ValidQuestionTypes[req.Type] {
		return nil, invalid("type must be 'multiple_choice' or 'free_response'")
	}
	opts, err := validateOptions(req.Type, req.Options)
	if err != nil {
		return nil, err
	}
	if len(req.OptionExplanations) > len(opts) {
		return nil, invalid("more option explanations than options")
	}

	p := &models.Problem{
		Title:     title,
		Body:      body,
		Type:      req.Type,
		CreatedBy: userID,
		Options:   opts,
		Images:    req.Images,
	}
	author := models.UserAuthor(userID)

	err = s.write(ctx, func(q store.Queries) error {
		if err := q.CreateProblem(ctx, p); err != nil {
			return err
		}
		var written []models.Explanation
		if req.Explanation != nil {
			if e, ok := slotFromInput(p.ID, author, models.OverallSlot, *req.Explanation); ok {
				written = append(written, e)
			}
		}
		for i, in := range req.OptionExplanations {
			if e, ok := slotFromInput(p.ID, author, models.OptionSlot(i), in); ok {
				written = append(written, e)
			}
		}
		for i := range written {
			if err := q.SaveExplanation(ctx, &written[i]); err != nil {
				return err
			}
		}
		if req.ModelAnswer != nil && strings.TrimSpace(*req.ModelAnswer) != "" {
			m := &models.ModelAnswer{ProblemID: p.ID, Author: author, Content: strings.TrimSpace(*req.ModelAnswer)}
			if err := q.UpsertModelAnswer(ctx, m); err != nil {
				return err
			}
		}
		return s.sched.Enqueue(ctx, q, jobs.GenerateTask(p.ID), jobs.JudgeBundleTask(p.ID, author))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("problem created", "problem_id", p.ID, "user_id", userID, "type", p.Type)
	return p, nil
}

// ownedProblem locks a problem and checks that userID created it.
func ownedProblem(ctx context.Context, q store.Queries, id, userID int64) (*models.Problem, error) {
	if err := q.LockProblem(ctx, id); err != nil {
		return nil, err
	}
	p, err := q.GetProblem(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CreatedBy != userID {
		return nil, store.ErrForbidden
	}
	return p, nil
}

// UpdateProblem applies an owner's edit and queues a regeneration of the
// machine content, keeping its likes.
func (s *Service) UpdateProblem(ctx context.Context, userID, id int64, req models.UpdateProblemRequest) (*models.Problem, error) {
	var p *models.Problem
	err := s.write(ctx, func(q store.Queries) error {
		var err error
		if p, err = ownedProblem(ctx, q, id, userID); err != nil {
			return err
		}
		if req.Title != nil {
			if p.Title = strings.TrimSpace(*req.Title); p.Title == "" {
				return invalid("title cannot be empty")
			}
		}
		if req.Body != nil {
			if p.Body = strings.TrimSpace(*req.Body); p.Body == "" {
				return invalid("body cannot be empty")
			}
		}
		if req.Options != nil {
			if p.Options, err = validateOptions(p.Type, req.Options); err != nil {
				return err
			}
			if _, err := q.DeleteOptionSlotsFrom(ctx, id, len(p.Options)); err != nil {
				return err
			}
		}
		if req.Images != nil {
			p.Images = req.Images
		}
		if err := q.UpdateProblem(ctx, p); err != nil {
			return err
		}
		return s.sched.Enqueue(ctx, q, jobs.RegenerateTask(id))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("problem updated", "problem_id", id, "user_id", userID)
	return p, nil
}

func (s *Service) DeleteProblem(ctx context.Context, userID, id int64) error {
	err := s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := ownedProblem(ctx, q, id, userID); err != nil {
			return err
		}
		return q.DeleteProblem(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("problem deleted", "problem_id", id, "user_id", userID)
	return nil
}

// ── Explanations ────────────────────────────────────────

func slotFromInput(problemID int64, author models.Author, slot models.SlotKey, in models.ExplanationInput) (models.Explanation, bool) {
	text := strings.TrimSpace(in.Content)
	if text == "" {
		return models.Explanation{}, false
	}
	return models.Explanation{
		ProblemID: problemID,
		Author:    author,
		Slot:      slot,
		Content:   text,
		Images:    in.Images,
	}, true
}

func (s *Service) ListExplanations(ctx context.Context, problemID int64) ([]models.Explanation, error) {
	if _, err := s.store.GetProblem(ctx, problemID); err != nil {
		return nil, err
	}
	expls, err := s.store.ListExplanations(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if expls == nil {
		expls = []models.Explanation{}
	}
	return expls, nil
}

// SaveExplanations replaces the caller's overall slot, option group, or
// both. The overall slot is updated in place and keeps its likes; the option
// group is deleted and recreated. A blank overall removes it.
func (s *Service) SaveExplanations(ctx context.Context, userID, problemID int64, req models.SaveExplanationsRequest) ([]models.Explanation, error) {
	if req.Overall == nil && req.Options == nil {
		return nil, invalid("nothing to save")
	}
	author := models.UserAuthor(userID)

	var result []models.Explanation
	err := s.write(ctx, func(q store.Queries) error {
		if err := q.LockProblem(ctx, problemID); err != nil {
			return err
		}
		p, err := q.GetProblem(ctx, problemID)
		if err != nil {
			return err
		}

		tasks := []models.Task{jobs.JudgeBundleTask(problemID, author)}
		save := func(e models.Explanation) error {
			if err := q.SaveExplanation(ctx, &e); err != nil {
				return err
			}
			tasks = append(tasks, jobs.JudgeExplanationTask(problemID, e.ID))
			return nil
		}

		if req.Overall != nil {
			if e, ok := slotFromInput(problemID, author, models.OverallSlot, *req.Overall); ok {
				if err := save(e); err != nil {
					return err
				}
			} else if _, err := q.DeleteAuthorExplanations(ctx, problemID, author, store.GroupOverall); err != nil {
				return err
			}
		}

		if req.Options != nil {
			inputs := *req.Options
			if len(inputs) > len(p.Options) {
				return invalid("more option explanations than options")
			}
			if _, err := q.DeleteAuthorExplanations(ctx, problemID, author, store.GroupOptions); err != nil {
				return err
			}
			for i, in := range inputs {
				if e, ok := slotFromInput(problemID, author, models.OptionSlot(i), in); ok {
					if err := save(e); err != nil {
						return err
					}
				}
			}
		}

		if err := s.sched.Enqueue(ctx, q, tasks...); err != nil {
			return err
		}
		result, err = q.AuthorExplanations(ctx, problemID, author)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []models.Explanation{}
	}
	return result, nil
}

// ── Model answers ───────────────────────────────────────

// SetModelAnswer upserts the caller's model answer. Blank content deletes it
// and returns nil.
func (s *Service) SetModelAnswer(ctx context.Context, userID, problemID int64, content string) (*models.ModelAnswer, error) {
	author := models.UserAuthor(userID)
	content = strings.TrimSpace(content)

	var m *models.ModelAnswer
	err := s.write(ctx, func(q store.Queries) error {
		if _, err := q.GetProblem(ctx, problemID); err != nil {
			return err
		}
		if content == "" {
			if err := q.DeleteModelAnswer(ctx, problemID, author); err != nil {
				return err
			}
		} else {
			m = &models.ModelAnswer{ProblemID: problemID, Author: author, Content: content}
			if err := q.UpsertModelAnswer(ctx, m); err != nil {
				return err
			}
		}
		return s.sched.Enqueue(ctx, q, jobs.JudgeBundleTask(problemID, author))
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ── Likes ───────────────────────────────────────────────

func (s *Service) LikeProblem(ctx context.Context, userID, problemID int64) (models.LikeResponse, error) {
	var resp models.LikeResponse
	err := s.store.InTx(ctx, func(q store.Queries) error {
		p, err := q.GetProblem(ctx, problemID)
		if err != nil {
			return err
		}
		added, count, err := q.AddProblemLike(ctx, problemID, userID)
		if err != nil {
			return err
		}
		resp = models.LikeResponse{Liked: true, LikeCount: count}
		if !added {
			return nil
		}
		return s.notifier.Notify(ctx, q, models.UserAuthor(p.CreatedBy), models.Event{
			Type:      models.NotifyProblemLike,
			ProblemID: problemID,
			ActorID:   &userID,
		})
	})
	return resp, err
}

func (s *Service) UnlikeProblem(ctx context.Context, userID, problemID int64) (models.LikeResponse, error) {
	_, count, err := s.store.RemoveProblemLike(ctx, problemID, userID)
	if err != nil {
		return models.LikeResponse{}, err
	}
	return models.LikeResponse{Liked: false, LikeCount: count}, nil
}

// LikeExplanation counts a like and tells the explanation's author. Likes on
// machine explanations are counted but notify nobody.
func (s *Service) LikeExplanation(ctx context.Context, userID, explanationID int64) (models.LikeResponse, error) {
	var resp models.LikeResponse
	err := s.store.InTx(ctx, func(q store.Queries) error {
		e, err := q.GetExplanation(ctx, explanationID)
		if err != nil {
			return err
		}
		added, count, err := q.AddExplanationLike(ctx, explanationID, userID)
		if err != nil {
			return err
		}
		resp = models.LikeResponse{Liked: true, LikeCount: count}
		if !added {
			return nil
		}
		return s.notifier.Notify(ctx, q, e.Author, models.Event{
			Type:      models.NotifyExplanationLike,
			ProblemID: e.ProblemID,
			ActorID:   &userID,
		})
	})
	return resp, err
}

func (s *Service) UnlikeExplanation(ctx context.Context, userID, explanationID int64) (models.LikeResponse, error) {
	_, count, err := s.store.RemoveExplanationLike(ctx, explanationID, userID)
	if err != nil {
		return models.LikeResponse{}, err
	}
	return models.LikeResponse{Liked: false, LikeCount: count}, nil
}

// ── Answers ─────────────────────────────────────────────

// RecordAnswer stores a user's attempt. For multiple-choice problems the
// correctness is taken from the selected option.
func (s *Service) RecordAnswer(ctx context.Context, userID, problemID int64, req models.SubmitAnswerRequest) (*models.Answer, error) {
	p, err := s.store.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}

	a := &models.Answer{ProblemID: problemID, UserID: userID}
	if p.IsMultipleChoice() {
		if req.SelectedOption == nil {
			return nil, invalid("selected_option is required")
		}
		i := *req.SelectedOption
		if i < 0 || i >= len(p.Options) {
			return nil, invalid("selected_option is out of range")
		}
		a.SelectedOption = &i
		a.IsCorrect = models.Bool(p.Options[i].IsCorrect)
	} else {
		if req.FreeText == nil || strings.TrimSpace(*req.FreeText) == "" {
			return nil, invalid("free_text is required")
		}
		a.FreeText = models.String(strings.TrimSpace(*req.FreeText))
	}

	if err := s.store.RecordAnswer(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
