// Package consensus turns solvers' "this explanation is wrong" votes into a
// suspect signal.
package consensus

import (
	"context"
	"fmt"

	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store"
)

const (
	MinSolvers          = 10
	WrongRatioThreshold = 0.3
)

// IsSuspect reports whether enough solvers flagged the explanation.
func IsSuspect(flagCount, solverCount int) bool {
	if solverCount < MinSolvers {
		return false
	}
	return float64(flagCount)/float64(max(1, solverCount)) > WrongRatioThreshold
}

type Service struct {
	store    store.Store
	notifier *notify.Dispatcher
	log      *logger.Logger
}

func NewService(st store.Store, n *notify.Dispatcher, log *logger.Logger) *Service {
	return &Service{store: st, notifier: n, log: log.With("component", "consensus")}
}

// AddWrongFlag records voterID's vote and returns the current flag count.
// Voting twice is a no-op. When the vote makes the explanation suspect, its
// human author is notified.
func (s *Service) AddWrongFlag(ctx context.Context, explanationID, voterID int64) (int, error) {
	var count int
	err := s.store.InTx(ctx, func(q store.Queries) error {
		e, err := q.LockExplanation(ctx, explanationID)
		if err != nil {
			return err
		}
		before, err := q.CountWrongFlags(ctx, explanationID)
		if err != nil {
			return fmt.Errorf("count flags: %w", err)
		}
		added, err := q.AddWrongFlag(ctx, explanationID, voterID)
		if err != nil {
			return err
		}
		count = before
		if !added {
			return nil
		}
		count = before + 1

		solvers, err := q.SolverCount(ctx, e.ProblemID)
		if err != nil {
			return fmt.Errorf("solver count: %w", err)
		}
		if IsSuspect(before, solvers) || !IsSuspect(count, solvers) {
			return nil
		}
		if e.Author.IsMachine() || e.Author.UserID == voterID {
			return nil
		}

		s.log.Info("explanation became crowd suspect",
			"explanation_id", explanationID, "problem_id", e.ProblemID, "flags", count, "solvers", solvers)
		return s.notifier.Notify(ctx, q, e.Author, models.Event{
			Type:      models.NotifyExplanationWrong,
			ProblemID: e.ProblemID,
			CrowdFlag: models.Bool(true),
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveWrongFlag retracts a vote if present and returns the current count.
func (s *Service) RemoveWrongFlag(ctx context.Context, explanationID, voterID int64) (int, error) {
	var count int
	err := s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.LockExplanation(ctx, explanationID); err != nil {
			return err
		}
		if _, err := q.RemoveWrongFlag(ctx, explanationID, voterID); err != nil {
			return err
		}
		var err error
		count, err = q.CountWrongFlags(ctx, explanationID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Status reports the crowd view of an explanation. viewerID is optional.
func (s *Service) Status(ctx context.Context, explanationID int64, viewerID *int64) (models.CrowdStatus, error) {
	e, err := s.store.GetExplanation(ctx, explanationID)
	if err != nil {
		return models.CrowdStatus{}, err
	}
	flags, err := s.store.CountWrongFlags(ctx, explanationID)
	if err != nil {
		return models.CrowdStatus{}, fmt.Errorf("count flags: %w", err)
	}
	solvers, err := s.store.SolverCount(ctx, e.ProblemID)
	if err != nil {
		return models.CrowdStatus{}, fmt.Errorf("solver count: %w", err)
	}

	status := models.CrowdStatus{
		ExplanationID: explanationID,
		FlagCount:     flags,
		SolverCount:   solvers,
		Suspect:       IsSuspect(flags, solvers),
	}
	if viewerID != nil {
		status.FlaggedByMe, err = s.store.HasWrongFlag(ctx, explanationID, *viewerID)
		if err != nil {
			return models.CrowdStatus{}, err
		}
	}
	return status, nil
}
