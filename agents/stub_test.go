package agents

import (
	"context"
	"errors"

	"hospital/engine"
)

// stubEngine replays scripted responses and records every prompt it was sent.
type stubEngine struct {
	name      string
	responses []string
	i         int
	prompts   [][]engine.Message
}

func (s *stubEngine) ModelName() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubEngine) Chat(_ context.Context, messages []engine.Message) (string, engine.Usage, error) {
	s.prompts = append(s.prompts, append([]engine.Message(nil), messages...))
	if s.i >= len(s.responses) {
		return "", engine.Usage{}, errors.New("stub engine: script exhausted")
	}
	r := s.responses[s.i]
	s.i++
	return r, engine.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil
}

// lastPrompt returns the user content of the most recent call.
func (s *stubEngine) lastPrompt() string {
	if len(s.prompts) == 0 {
		return ""
	}
	msgs := s.prompts[len(s.prompts)-1]
	return msgs[len(msgs)-1].Content
}
