package memory

import (
	"fmt"
	"testing"
)

func TestWindow_TrimsOldestFirst(t *testing.T) {
	w := NewWindow(3)

	for i := 0; i < 5; i++ {
		w.AddUserMessage(fmt.Sprintf("Message %d", i), "viewer")
	}

	ctx := w.Context()
	if len(ctx) != 3 {
		t.Fatalf("expected 3 retained messages, got %d", len(ctx))
	}
	want := []string{"Message 2", "Message 3", "Message 4"}
	for i, m := range ctx {
		if m.Content != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], m.Content)
		}
	}
}

func TestWindow_AlternatingRoles(t *testing.T) {
	w := NewWindow(10)

	w.AddUserMessage("hello", "alice")
	w.AddAssistantMessage("hi there")

	ctx := w.Context()
	if len(ctx) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ctx))
	}
	if ctx[0].Role != RoleUser || ctx[1].Role != RoleAssistant {
		t.Errorf("unexpected roles: %v, %v", ctx[0].Role, ctx[1].Role)
	}
}

func TestWindow_ContextReturnsCopy(t *testing.T) {
	w := NewWindow(5)
	w.AddUserMessage("original", "alice")

	ctx := w.Context()
	ctx[0].Content = "mutated"

	if got := w.Context()[0].Content; got != "original" {
		t.Errorf("expected internal state untouched, got %q", got)
	}
}

func TestWindow_ContextWithNames(t *testing.T) {
	w := NewWindow(5)
	w.AddUserMessage("hello", "alice")
	w.AddAssistantMessage("hi")
	w.AddUserMessage("anonymous", "")

	ctx := w.ContextWithNames()
	if ctx[0].Content != "alice: hello" {
		t.Errorf("expected name prefix, got %q", ctx[0].Content)
	}
	if ctx[1].Content != "hi" {
		t.Errorf("expected assistant message untouched, got %q", ctx[1].Content)
	}
	if ctx[2].Content != "anonymous" {
		t.Errorf("expected unnamed message untouched, got %q", ctx[2].Content)
	}
}

func TestWindow_Clear(t *testing.T) {
	w := NewWindow(5)
	w.AddUserMessage("hello", "alice")
	w.Clear()

	if w.Len() != 0 {
		t.Errorf("expected empty window, got %d", w.Len())
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < 25; i++ {
		w.AddUserMessage("m", "u")
	}
	if w.Len() != 20 {
		t.Errorf("expected default cap of 20, got %d", w.Len())
	}
}
