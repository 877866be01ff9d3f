package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// ── MockClient (local development) ─────────────────────

// MockClient answers with canned JSON in the shape each purpose expects.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

var optionLine = regexp.MustCompile(`(?m)^(?:[A-Z]|Option \d+)\) `)

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var body any
	switch req.Purpose {
	case PurposeJudge:
		body = map[string]any{
			"is_wrong": false,
			"score":    80,
			"reason":   "[Mock] The explanation is consistent with the problem.",
		}
	default:
		n := len(optionLine.FindAllStringIndex(req.Prompt, -1))
		options := make([]string, n)
		for i := range options {
			options[i] = fmt.Sprintf("[Mock] Explanation for option %d.", i+1)
		}
		gen := map[string]any{
			"model_answer": "[Mock] Model answer.",
			"overall":      "[Mock] Overall explanation of the problem.",
		}
		if n > 0 {
			gen["model_answer"] = "A"
			gen["options"] = options
		}
		body = gen
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Response{Content: string(data), PromptTokens: 500, OutputTokens: 200}, nil
}
