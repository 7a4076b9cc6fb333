// Package agents implements the consultation roles: doctors, the simulated
// patient, the examination reporter, and the discussion host. Each role is
// split into a reusable agent (persona + engine) and a per-patient session
// that owns its own conversation memory, diagnosis state and token ledger, so
// concurrent consultations never share mutable state.
package agents

import "hospital/engine"

// Memory is a per-session conversation history. It is not safe for
// concurrent use; a session belongs to one consultation goroutine.
type Memory struct {
	messages []engine.Message
}

// NewMemory starts a history with the given system prompt.
func NewMemory(systemPrompt string) *Memory {
	m := &Memory{}
	if systemPrompt != "" {
		m.messages = append(m.messages, engine.Message{Role: engine.RoleSystem, Content: systemPrompt})
	}
	return m
}

// Append records one message.
func (m *Memory) Append(role, content string) {
	m.messages = append(m.messages, engine.Message{Role: role, Content: content})
}

// Messages returns a copy of the history safe to hand to an engine.
func (m *Memory) Messages() []engine.Message {
	return append([]engine.Message(nil), m.messages...)
}

// Len returns the number of stored messages, system prompt included.
func (m *Memory) Len() int {
	return len(m.messages)
}
