package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Author identifies who wrote a slot, model answer or judgement subject.
// The zero value is the machine author.
type Author struct {
	UserID int64
}

func MachineAuthor() Author {
	return Author{}
}

func UserAuthor(id int64) Author {
	return Author{UserID: id}
}

// AuthorFromNullable converts a nullable author_id column value.
func AuthorFromNullable(id int64, valid bool) Author {
	if !valid {
		return MachineAuthor()
	}
	return UserAuthor(id)
}

func (a Author) IsMachine() bool {
	return a.UserID == 0
}

// Ref returns the value stored in author_id columns: nil for the machine author.
func (a Author) Ref() *int64 {
	if a.IsMachine() {
		return nil
	}
	id := a.UserID
	return &id
}

func (a Author) String() string {
	if a.IsMachine() {
		return "machine"
	}
	return strconv.FormatInt(a.UserID, 10)
}

func (a Author) MarshalJSON() ([]byte, error) {
	if a.IsMachine() {
		return []byte("null"), nil
	}
	return json.Marshal(a.UserID)
}

func (a *Author) UnmarshalJSON(data []byte) error {
	var id *int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id == nil {
		*a = MachineAuthor()
		return nil
	}
	*a = UserAuthor(*id)
	return nil
}

// SlotKey addresses one explanation slot within an author's set for a problem:
// OverallSlot or a zero-based option index. It is stable across regenerations.
type SlotKey int

const OverallSlot SlotKey = -1

func OptionSlot(i int) SlotKey {
	return SlotKey(i)
}

func SlotFromNullable(idx int64, valid bool) SlotKey {
	if !valid {
		return OverallSlot
	}
	return SlotKey(idx)
}

func (k SlotKey) IsOverall() bool {
	return k < 0
}

// Ref returns the value stored in option_index columns: nil for overall.
func (k SlotKey) Ref() *int {
	if k.IsOverall() {
		return nil
	}
	i := int(k)
	return &i
}

func (k SlotKey) String() string {
	if k.IsOverall() {
		return "overall"
	}
	return "option:" + strconv.Itoa(int(k))
}

func (k SlotKey) MarshalJSON() ([]byte, error) {
	if k.IsOverall() {
		return []byte("null"), nil
	}
	return json.Marshal(int(k))
}

func (k *SlotKey) UnmarshalJSON(data []byte) error {
	var i *int
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	if i == nil || *i < 0 {
		*k = OverallSlot
		return nil
	}
	*k = SlotKey(*i)
	return nil
}

type Explanation struct {
	ID         int64      `json:"id"`
	ProblemID  int64      `json:"problem_id"`
	Author     Author     `json:"author_id"`
	Slot       SlotKey    `json:"option_index"`
	Content    string     `json:"content"`
	LikeCount  int        `json:"like_count"`
	Review     Verdict    `json:"ai_review"`
	ReviewedAt *time.Time `json:"ai_reviewed_at,omitempty"`
	Images     []string   `json:"images,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type ModelAnswer struct {
	ID        int64     `json:"id"`
	ProblemID int64     `json:"problem_id"`
	Author    Author    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlotSnapshot is the engagement carried from one machine generation to the next.
type SlotSnapshot struct {
	LikeCount int
	Likers    []int64
}
