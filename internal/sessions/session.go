package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggurov/local-llm/internal/providers"
)

// Message is one conversation entry. Tool call metadata mirrors the wire
// shape the backend expects so history replays without translation.
type Message struct {
	ID         string               `json:"id"`
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	ToolCalls  []providers.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Session is one conversation. Access is serialized by the store; code that
// holds a session lease may read and mutate it freely until release.
type Session struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Append adds a message and bumps the activity timestamp.
func (s *Session) Append(role, content string) *Message {
	s.Messages = append(s.Messages, Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	s.LastActiveAt = time.Now()
	return &s.Messages[len(s.Messages)-1]
}

// AppendAssistant records an assistant turn, including any tool calls the
// model requested.
func (s *Session) AppendAssistant(content string, calls []providers.ToolCall) *Message {
	msg := s.Append("assistant", content)
	msg.ToolCalls = calls
	return msg
}

// AppendToolResult records the outcome of one tool call.
func (s *Session) AppendToolResult(toolCallID, content string) *Message {
	msg := s.Append("tool", content)
	msg.ToolCallID = toolCallID
	return msg
}

// History renders the conversation in provider wire format.
func (s *Session) History() []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, providers.ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}
