// Package generation produces the machine author's explanations and model
// answer for a problem, and regenerates them without losing the likes the
// previous generation collected.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/studyhub/backend/internal/assets"
	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/lock"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/metrics"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

const (
	MaxProblemImages = 4

	generateTemperature = 0.2
	defaultLockTTL      = 15 * time.Minute
)

// ErrBlankCompletion is returned when the model replies with nothing usable.
// Existing machine content is left untouched so the task can be retried.
var ErrBlankCompletion = errors.New("blank generation completion")

type Service struct {
	store   store.Store
	llm     llm.Client
	assets  assets.Reader
	locker  lock.Locker
	lockTTL time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewService accepts a nil client, in which case generation is a no-op.
func NewService(st store.Store, client llm.Client, r assets.Reader, l lock.Locker, lockTTL time.Duration, log *logger.Logger, m *metrics.Metrics) *Service {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		store:   st,
		llm:     client,
		assets:  r,
		locker:  l,
		lockTTL: lockTTL,
		log:     log.With("component", "generation"),
		metrics: m,
	}
}

func regenLockKey(problemID int64) string {
	return fmt.Sprintf("regen:problem:%d", problemID)
}

// Generate replaces the machine author's content for a problem.
func (s *Service) Generate(ctx context.Context, problemID int64) error {
	if s.llm == nil {
		return nil
	}
	p, out, err := s.complete(ctx, problemID)
	if err != nil || p == nil {
		return err
	}
	return s.store.InTx(ctx, func(q store.Queries) error {
		return s.replace(ctx, q, p, out, false)
	})
}

// RegeneratePreservingEngagement is Generate for a problem whose machine
// content may already have likes. New slots inherit the like count and likers
// of the old slot with the same key, so repeated runs leave counts unchanged.
func (s *Service) RegeneratePreservingEngagement(ctx context.Context, problemID int64) error {
	if s.llm == nil {
		return nil
	}
	release, err := s.locker.Acquire(ctx, regenLockKey(problemID), s.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire regeneration lock: %w", err)
	}
	defer release()

	p, out, err := s.complete(ctx, problemID)
	if err != nil || p == nil {
		return err
	}
	return s.store.InTx(ctx, func(q store.Queries) error {
		return s.replace(ctx, q, p, out, true)
	})
}

// complete returns a nil problem when it no longer exists.
func (s *Service) complete(ctx context.Context, problemID int64) (*models.Problem, llm.Decoded[llm.Generation], error) {
	var none llm.Decoded[llm.Generation]

	p, err := s.store.GetProblem(ctx, problemID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Debug("problem gone, skipping generation", "problem_id", problemID)
		return nil, none, nil
	}
	if err != nil {
		return nil, none, fmt.Errorf("load problem: %w", err)
	}

	log := s.log.With("problem_id", problemID)
	resp, err := s.llm.Complete(ctx, llm.Request{
		Purpose:     llm.PurposeGenerate,
		System:      SystemPrompt(),
		Prompt:      BuildUserPrompt(p),
		Images:      assets.LoadImages(ctx, s.assets, p.Images, MaxProblemImages, log),
		Temperature: generateTemperature,
		MaxTokens:   maxTokens(p),
	})
	if err != nil {
		return nil, none, fmt.Errorf("generation completion: %w", err)
	}
	out := llm.DecodeGeneration(resp.Content)
	if raw, unparsed := out.Unparsed(); unparsed && strings.TrimSpace(raw) == "" {
		return nil, none, ErrBlankCompletion
	}
	return p, out, nil
}

func (s *Service) replace(ctx context.Context, q store.Queries, p *models.Problem, out llm.Decoded[llm.Generation], preserve bool) error {
	if err := q.LockProblem(ctx, p.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	machine := models.MachineAuthor()

	var snapshot map[models.SlotKey]models.SlotSnapshot
	if preserve {
		var err error
		snapshot, err = q.SnapshotSlots(ctx, p.ID, machine)
		if err != nil {
			return fmt.Errorf("snapshot slots: %w", err)
		}
	}

	if _, err := q.DeleteAuthorExplanations(ctx, p.ID, machine, store.GroupAll); err != nil {
		return fmt.Errorf("delete machine explanations: %w", err)
	}
	if err := q.DeleteModelAnswer(ctx, p.ID, machine); err != nil {
		return fmt.Errorf("delete machine model answer: %w", err)
	}

	slots, modelAnswer := machineContent(p, out)
	carried := 0
	for i := range slots {
		e := &slots[i]
		prev, ok := snapshot[e.Slot]
		if ok {
			e.LikeCount = prev.LikeCount
		}
		if err := q.SaveExplanation(ctx, e); err != nil {
			return fmt.Errorf("save %s slot: %w", e.Slot, err)
		}
		if ok && len(prev.Likers) > 0 {
			if err := q.RestoreExplanationLikers(ctx, e.ID, prev.Likers); err != nil {
				return fmt.Errorf("restore likers of %s slot: %w", e.Slot, err)
			}
			carried++
		}
	}

	if modelAnswer != "" {
		m := &models.ModelAnswer{ProblemID: p.ID, Author: machine, Content: modelAnswer}
		if err := q.UpsertModelAnswer(ctx, m); err != nil {
			return fmt.Errorf("save machine model answer: %w", err)
		}
	}

	_, parsed := out.Parsed()
	s.log.Info("machine content written",
		"problem_id", p.ID, "slots", len(slots), "parsed", parsed, "regenerated", preserve, "slots_with_likers", carried)
	return nil
}

// machineContent maps a decoded generation onto slots. Unparsed output is
// kept as the overall explanation and nothing else.
func machineContent(p *models.Problem, out llm.Decoded[llm.Generation]) ([]models.Explanation, string) {
	machine := models.MachineAuthor()
	slot := func(k models.SlotKey, content string) models.Explanation {
		return models.Explanation{ProblemID: p.ID, Author: machine, Slot: k, Content: content}
	}

	gen, ok := out.Parsed()
	if !ok {
		raw, _ := out.Unparsed()
		return []models.Explanation{slot(models.OverallSlot, strings.TrimSpace(raw))}, ""
	}

	slots := []models.Explanation{slot(models.OverallSlot, gen.Overall)}
	if p.IsMultipleChoice() {
		for i, text := range gen.Options {
			if i >= len(p.Options) {
				break
			}
			if text == "" {
				continue
			}
			slots = append(slots, slot(models.OptionSlot(i), text))
		}
	}
	return slots, gen.ModelAnswer
}
