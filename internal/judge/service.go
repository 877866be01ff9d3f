// Package judge asks the completion service whether authored content is
// wrong and records the verdicts.
package judge

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyhub/backend/internal/assets"
	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/metrics"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store"
)

const (
	MaxProblemImages     = 4
	MaxExplanationImages = 2

	judgeTemperature = 0
	judgeMaxTokens   = 400
)

type Service struct {
	store    store.Store
	llm      llm.Client
	assets   assets.Reader
	notifier *notify.Dispatcher
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewService accepts a nil client, in which case every judge call is a no-op.
func NewService(st store.Store, client llm.Client, r assets.Reader, n *notify.Dispatcher, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:    st,
		llm:      client,
		assets:   r,
		notifier: n,
		log:      log.With("component", "judge"),
		metrics:  m,
	}
}

// Judgement returns the stored bundle verdict for (problem, author).
func (s *Service) Judgement(ctx context.Context, problemID int64, author models.Author) (*models.Judgement, error) {
	return s.store.GetJudgement(ctx, problemID, author)
}

// ── Bundle judge ────────────────────────────────────────

// JudgeAuthorBundle evaluates an author's model answer and explanations for
// a problem together and merges the verdict into their Judgement.
func (s *Service) JudgeAuthorBundle(ctx context.Context, problemID int64, author models.Author) error {
	if s.llm == nil {
		return nil
	}
	log := s.log.With("problem_id", problemID, "author", author.String())

	p, err := s.store.GetProblem(ctx, problemID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("problem gone, skipping bundle judge")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load problem: %w", err)
	}
	expls, err := s.store.AuthorExplanations(ctx, problemID, author)
	if err != nil {
		return fmt.Errorf("load explanations: %w", err)
	}
	modelAnswer, err := s.store.GetModelAnswer(ctx, problemID, author)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load model answer: %w", err)
	}
	if len(expls) == 0 && modelAnswer == nil {
		log.Debug("author has nothing to judge")
		return nil
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		Purpose:     llm.PurposeJudge,
		System:      BundleSystemPrompt(),
		Prompt:      BuildBundlePrompt(p, modelAnswer, expls),
		Images:      assets.LoadImages(ctx, s.assets, p.Images, MaxProblemImages, log),
		Temperature: judgeTemperature,
		MaxTokens:   judgeMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("bundle judge completion: %w", err)
	}

	v, ok := llm.DecodeVerdict(resp.Content).Parsed()
	if !ok {
		s.metrics.Verdict("bundle", "unparsed")
		log.Warn("bundle verdict unparsed, leaving judgement untouched")
		return nil
	}
	s.metrics.Verdict("bundle", v.Label())

	return s.store.InTx(ctx, func(q store.Queries) error {
		if err := q.LockProblem(ctx, problemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if _, err := q.MergeJudgement(ctx, problemID, author, v); err != nil {
			return err
		}
		if !v.Wrong() {
			return nil
		}
		log.Info("bundle judged wrong")
		return s.notifyWrong(ctx, q, author, problemID)
	})
}

// ── Per-item reviewer ───────────────────────────────────

// JudgeSingleExplanation reviews one explanation and stores the verdict on
// it. A wrong verdict is also merged into the author's Judgement; a
// not-wrong verdict never clears one.
func (s *Service) JudgeSingleExplanation(ctx context.Context, explanationID int64) error {
	if s.llm == nil {
		return nil
	}
	log := s.log.With("explanation_id", explanationID)

	e, err := s.store.GetExplanation(ctx, explanationID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("explanation gone, skipping review")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load explanation: %w", err)
	}
	p, err := s.store.GetProblem(ctx, e.ProblemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load problem: %w", err)
	}

	images := assets.LoadImages(ctx, s.assets, p.Images, MaxProblemImages, log)
	images = append(images, assets.LoadImages(ctx, s.assets, e.Images, MaxExplanationImages, log)...)

	resp, err := s.llm.Complete(ctx, llm.Request{
		Purpose:     llm.PurposeJudge,
		System:      ExplanationSystemPrompt(),
		Prompt:      BuildExplanationPrompt(p, e),
		Images:      images,
		Temperature: judgeTemperature,
		MaxTokens:   judgeMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("explanation judge completion: %w", err)
	}

	v, ok := llm.DecodeVerdict(resp.Content).Parsed()
	if !ok {
		s.metrics.Verdict("explanation", "unparsed")
		log.Warn("explanation verdict unparsed, leaving review untouched")
		return nil
	}
	s.metrics.Verdict("explanation", v.Label())

	return s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.LockExplanation(ctx, explanationID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := q.SetExplanationReview(ctx, explanationID, v); err != nil {
			return err
		}
		if !v.Wrong() {
			return nil
		}
		if _, err := q.MergeJudgement(ctx, e.ProblemID, e.Author, v); err != nil {
			return err
		}
		log.Info("explanation judged wrong", "problem_id", e.ProblemID, "author", e.Author.String())
		return s.notifyWrong(ctx, q, e.Author, e.ProblemID)
	})
}

// ── Judge all ───────────────────────────────────────────

// JudgeAllExplanations reviews every current explanation of a problem. One
// failing item does not stop the rest.
func (s *Service) JudgeAllExplanations(ctx context.Context, problemID int64) error {
	if s.llm == nil {
		return nil
	}
	expls, err := s.store.ListExplanations(ctx, problemID)
	if err != nil {
		return fmt.Errorf("list explanations: %w", err)
	}

	failed := 0
	for _, e := range expls {
		if err := s.JudgeSingleExplanation(ctx, e.ID); err != nil {
			failed++
			s.log.Warn("explanation review failed", "explanation_id", e.ID, "problem_id", problemID, "error", err)
		}
	}
	s.log.Info("reviewed explanations", "problem_id", problemID, "total", len(expls), "failed", failed)
	return nil
}

func (s *Service) notifyWrong(ctx context.Context, q store.Queries, author models.Author, problemID int64) error {
	return s.notifier.Notify(ctx, q, author, models.Event{
		Type:      models.NotifyExplanationWrong,
		ProblemID: problemID,
		AIFlag:    models.Bool(true),
	})
}
