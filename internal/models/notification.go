package models

import "time"

type NotificationType string

const (
	NotifyProblemLike      NotificationType = "problem_like"
	NotifyExplanationLike  NotificationType = "explanation_like"
	NotifyExplanationWrong NotificationType = "explanation_wrong"
)

var ValidNotificationTypes = map[NotificationType]bool{
	NotifyProblemLike:      true,
	NotifyExplanationLike:  true,
	NotifyExplanationWrong: true,
}

// ActorKeyed reports whether distinct actors produce distinct notifications.
// Wrong-content events are system generated and keyed without an actor.
func (t NotificationType) ActorKeyed() bool {
	return t == NotifyProblemLike || t == NotifyExplanationLike
}

type Notification struct {
	ID           int64            `json:"id"`
	RecipientID  int64            `json:"recipient_id"`
	Type         NotificationType `json:"type"`
	ProblemID    int64            `json:"problem_id"`
	ActorID      *int64           `json:"actor_id"`
	AIFlag       *bool            `json:"ai_flag"`
	CrowdFlag    *bool            `json:"crowd_flag"`
	Seen         bool             `json:"seen"`
	CreatedAt    time.Time        `json:"created_at"`
	ProblemTitle string           `json:"problem_title,omitempty"`
	ActorName    *string          `json:"actor_name,omitempty"`
}

// Event is a request to record a notification-worthy transition.
type Event struct {
	RecipientID int64
	Type        NotificationType
	ProblemID   int64
	ActorID     *int64
	AIFlag      *bool
	CrowdFlag   *bool
}

// Key returns the event with fields outside its creation key cleared.
func (e Event) Key() Event {
	k := Event{RecipientID: e.RecipientID, Type: e.Type, ProblemID: e.ProblemID}
	if e.Type.ActorKeyed() {
		k.ActorID = e.ActorID
	}
	return k
}

func Bool(b bool) *bool {
	return &b
}

func Int(i int) *int {
	return &i
}

func Int64(i int64) *int64 {
	return &i
}

func String(s string) *string {
	return &s
}
