// Package llmtest provides a scripted completion client for service tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/studyhub/backend/internal/llm"
)

var ErrExhausted = errors.New("llmtest: no scripted reply left")

type reply struct {
	content string
	err     error
}

// Scripted replays queued replies per purpose in order and records every
// request it receives. When a purpose has no queued reply left, the last
// reply for that purpose is repeated; with none at all it fails.
type Scripted struct {
	mu       sync.Mutex
	replies  map[llm.Purpose][]reply
	last     map[llm.Purpose]reply
	requests []llm.Request
}

func New() *Scripted {
	return &Scripted{
		replies: map[llm.Purpose][]reply{},
		last:    map[llm.Purpose]reply{},
	}
}

func (s *Scripted) Reply(p llm.Purpose, content string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[p] = append(s.replies[p], reply{content: content})
	return s
}

func (s *Scripted) Fail(p llm.Purpose, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[p] = append(s.replies[p], reply{err: err})
	return s
}

func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	r, ok := s.last[req.Purpose]
	if queue := s.replies[req.Purpose]; len(queue) > 0 {
		r, ok = queue[0], true
		s.replies[req.Purpose] = queue[1:]
		s.last[req.Purpose] = r
	}
	if !ok {
		return nil, ErrExhausted
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{Content: r.content, PromptTokens: len(req.Prompt) / 4, OutputTokens: len(r.content) / 4}, nil
}

func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

func (s *Scripted) Calls(p llm.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Purpose == p {
			n++
		}
	}
	return n
}
