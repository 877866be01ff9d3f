package models

import (
	"fmt"
	"time"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionFreeResponse   QuestionType = "free_response"
)

var ValidQuestionTypes = map[QuestionType]bool{
	QuestionMultipleChoice: true,
	QuestionFreeResponse:   true,
}

type Problem struct {
	ID        int64        `json:"id"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	Type      QuestionType `json:"type"`
	CreatedBy int64        `json:"created_by"`
	LikeCount int          `json:"like_count"`
	Options   []Option     `json:"options,omitempty"`
	Images    []string     `json:"images,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Option struct {
	ID        int64  `json:"id"`
	ProblemID int64  `json:"problem_id"`
	Position  int    `json:"position"`
	Content   string `json:"content"`
	IsCorrect bool   `json:"is_correct"`
}

func (p Problem) IsMultipleChoice() bool {
	return p.Type == QuestionMultipleChoice
}

// CorrectIndexes returns the positions of every option marked correct.
func (p Problem) CorrectIndexes() []int {
	var idx []int
	for i, o := range p.Options {
		if o.IsCorrect {
			idx = append(idx, i)
		}
	}
	return idx
}

// OptionLabel maps a zero-based option index to the label shown to readers
// and to the completion service: A..Z, then "Option N".
func OptionLabel(i int) string {
	if i >= 0 && i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("Option %d", i+1)
}

type Answer struct {
	ID             int64     `json:"id"`
	ProblemID      int64     `json:"problem_id"`
	UserID         int64     `json:"user_id"`
	SelectedOption *int      `json:"selected_option,omitempty"`
	FreeText       *string   `json:"free_text,omitempty"`
	IsCorrect      *bool     `json:"is_correct,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
