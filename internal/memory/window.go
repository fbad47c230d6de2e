// Package memory provides short-term conversation context and an optional
// SQLite-backed long-term store with keyword retrieval.
package memory

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in conversation history.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	UserName  string // set for user messages when known
}

// Window is a fixed-size sliding window of conversation history consumed as
// LLM context. It is owned exclusively by the pipeline's turn loop and is
// not safe for concurrent use.
type Window struct {
	messages    []Message
	maxMessages int
}

// NewWindow creates a window retaining at most maxMessages entries,
// FIFO-trimmed from the oldest end.
func NewWindow(maxMessages int) *Window {
	if maxMessages <= 0 {
		maxMessages = 20
	}
	return &Window{
		messages:    make([]Message, 0, maxMessages),
		maxMessages: maxMessages,
	}
}

// AddUserMessage appends a user message.
func (w *Window) AddUserMessage(content, userName string) {
	w.messages = append(w.messages, Message{
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		UserName:  userName,
	})
	w.trim()
}

// AddAssistantMessage appends an assistant message.
func (w *Window) AddAssistantMessage(content string) {
	w.messages = append(w.messages, Message{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	})
	w.trim()
}

// Context returns the retained messages oldest first.
func (w *Window) Context() []Message {
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// ContextWithNames is like Context but prefixes user messages with the
// sender's name so the model can address viewers individually.
func (w *Window) ContextWithNames() []Message {
	out := make([]Message, len(w.messages))
	for i, m := range w.messages {
		if m.Role == RoleUser && m.UserName != "" {
			m.Content = fmt.Sprintf("%s: %s", m.UserName, m.Content)
		}
		out[i] = m
	}
	return out
}

// Len returns the number of retained messages.
func (w *Window) Len() int {
	return len(w.messages)
}

// Clear drops all history.
func (w *Window) Clear() {
	w.messages = w.messages[:0]
}

// Summary returns a one-line description of the stored history.
func (w *Window) Summary() string {
	if len(w.messages) == 0 {
		return "No conversation history."
	}
	users := 0
	for _, m := range w.messages {
		if m.Role == RoleUser {
			users++
		}
	}
	return fmt.Sprintf("Conversation history: %d messages, %d from users.", len(w.messages), users)
}

func (w *Window) trim() {
	if len(w.messages) > w.maxMessages {
		w.messages = append(w.messages[:0:0], w.messages[len(w.messages)-w.maxMessages:]...)
	}
}
