// Package notify records notification-worthy events for users and serves
// their inbox.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/metrics"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

var ErrSelfNotification = errors.New("notification recipient is its actor")

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Dispatcher struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(st store.Store, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: st, log: log.With("component", "notify"), metrics: m}
}

// UpsertEvent records ev inside the caller's transaction. Like events are
// created once per actor and never modified. Wrong-content events share one
// row per recipient and problem whose flags only move from unknown to known;
// a flag whose value changes marks the row unseen again.
func (d *Dispatcher) UpsertEvent(ctx context.Context, q store.Queries, ev models.Event) error {
	if ev.ActorID != nil && *ev.ActorID == ev.RecipientID {
		return ErrSelfNotification
	}

	existing, err := q.FindNotification(ctx, ev)
	if errors.Is(err, store.ErrNotFound) {
		n := &models.Notification{
			RecipientID: ev.RecipientID,
			Type:        ev.Type,
			ProblemID:   ev.ProblemID,
			AIFlag:      ev.AIFlag,
			CrowdFlag:   ev.CrowdFlag,
		}
		if ev.Type.ActorKeyed() {
			n.ActorID = ev.ActorID
		}
		inserted, err := q.InsertNotification(ctx, n)
		if err != nil {
			return err
		}
		if inserted {
			d.metrics.NotificationUpserted(string(ev.Type), "created")
			return nil
		}
		// Lost a race with a concurrent insert of the same key.
		existing, err = q.FindNotification(ctx, ev)
		if err != nil {
			return fmt.Errorf("reload notification: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("find notification: %w", err)
	}

	if !ev.Type.ActorKeyed() && mergeFlags(existing, ev) {
		if err := q.UpdateNotification(ctx, existing); err != nil {
			return err
		}
		d.metrics.NotificationUpserted(string(ev.Type), "updated")
		return nil
	}
	d.metrics.NotificationUpserted(string(ev.Type), "unchanged")
	return nil
}

// mergeFlags applies the known flags of ev to n and reports whether
// anything changed.
func mergeFlags(n *models.Notification, ev models.Event) bool {
	changed := false
	if ev.AIFlag != nil && (n.AIFlag == nil || *n.AIFlag != *ev.AIFlag) {
		n.AIFlag = ev.AIFlag
		changed = true
	}
	if ev.CrowdFlag != nil && (n.CrowdFlag == nil || *n.CrowdFlag != *ev.CrowdFlag) {
		n.CrowdFlag = ev.CrowdFlag
		changed = true
	}
	if changed {
		n.Seen = false
	}
	return changed
}

// Notify addresses ev to the author of the content it concerns. Machine
// authors and self events are dropped silently.
func (d *Dispatcher) Notify(ctx context.Context, q store.Queries, recipient models.Author, ev models.Event) error {
	if recipient.IsMachine() {
		return nil
	}
	ev.RecipientID = recipient.UserID
	err := d.UpsertEvent(ctx, q, ev)
	if errors.Is(err, ErrSelfNotification) {
		return nil
	}
	return err
}

func (d *Dispatcher) List(ctx context.Context, recipientID int64, unseenOnly bool, limit int) ([]models.Notification, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	items, err := d.store.ListNotifications(ctx, recipientID, unseenOnly, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, nil
}

func (d *Dispatcher) MarkSeen(ctx context.Context, recipientID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return d.store.MarkNotificationsSeen(ctx, recipientID, ids)
}
