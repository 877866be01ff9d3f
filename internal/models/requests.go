package models

type OptionInput struct {
	Content   string `json:"content"`
	IsCorrect bool   `json:"is_correct"`
}

type ExplanationInput struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type CreateProblemRequest struct {
	Title              string             `json:"title"`
	Body               string             `json:"body"`
	Type               QuestionType       `json:"type"`
	Options            []OptionInput      `json:"options,omitempty"`
	Images             []string           `json:"images,omitempty"`
	Explanation        *ExplanationInput  `json:"explanation,omitempty"`
	OptionExplanations []ExplanationInput `json:"option_explanations,omitempty"`
	ModelAnswer        *string            `json:"model_answer,omitempty"`
}

// UpdateProblemRequest carries an owner's edit. Nil fields are unchanged.
type UpdateProblemRequest struct {
	Title   *string       `json:"title,omitempty"`
	Body    *string       `json:"body,omitempty"`
	Options []OptionInput `json:"options,omitempty"`
	Images  []string      `json:"images,omitempty"`
}

// SaveExplanationsRequest replaces the caller's overall slot, option group, or both.
type SaveExplanationsRequest struct {
	Overall *ExplanationInput   `json:"overall,omitempty"`
	Options *[]ExplanationInput `json:"options,omitempty"`
}

type ModelAnswerRequest struct {
	Content string `json:"content"`
}

type SubmitAnswerRequest struct {
	SelectedOption *int    `json:"selected_option,omitempty"`
	FreeText       *string `json:"free_text,omitempty"`
}

type MarkSeenRequest struct {
	IDs []int64 `json:"ids"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type LikeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}
