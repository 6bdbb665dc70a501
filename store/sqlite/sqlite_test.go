package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spotty118/saturn"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "saturn.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestCreateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, saturn.Session{
		Name:      "main",
		Type:      "primary",
		AgentName: "coder",
		Model:     "test-model",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	// Explicit ids are preserved.
	id2, err := s.CreateSession(ctx, saturn.Session{
		ID: "fixed-id", Name: "sub", Type: "subagent", ParentID: id,
		AgentName: "helper", Model: "test-model",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id2 != "fixed-id" {
		t.Errorf("id = %q, want fixed-id", id2)
	}

	// Duplicate ids are rejected by the primary key.
	if _, err := s.CreateSession(ctx, saturn.Session{
		ID: "fixed-id", Name: "dup", Type: "primary", AgentName: "x", Model: "m",
	}); err == nil {
		t.Error("duplicate session id accepted")
	}
}

func TestSaveMessageMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid, err := s.CreateSession(ctx, saturn.Session{Name: "s", Type: "primary", AgentName: "a", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	var prev int64
	for i, m := range []saturn.ChatMessage{
		saturn.UserMessage("first"),
		saturn.AssistantMessage("second"),
		saturn.UserMessage("third"),
	} {
		id, err := s.SaveMessage(ctx, sid, m)
		if err != nil {
			t.Fatalf("SaveMessage %d: %v", i, err)
		}
		if id <= prev {
			t.Errorf("message %d id %d not greater than %d", i, id, prev)
		}
		prev = id
	}
}

func TestSaveMessageWithToolCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid, err := s.CreateSession(ctx, saturn.Session{Name: "s", Type: "primary", AgentName: "a", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	msg := saturn.ChatMessage{
		Role: saturn.RoleAssistant,
		ToolCalls: []saturn.ToolCall{
			{ID: "call_1", Name: "read_file", Args: json.RawMessage(`{"path":"a.go"}`)},
		},
	}
	if _, err := s.SaveMessage(ctx, sid, msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	tool := saturn.ToolResultMessage("call_1", "read_file", "package a")
	if _, err := s.SaveMessage(ctx, sid, tool); err != nil {
		t.Fatalf("SaveMessage tool: %v", err)
	}
}

func TestToolCallLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid, err := s.CreateSession(ctx, saturn.Session{Name: "s", Type: "primary", AgentName: "a", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	mid, err := s.SaveMessage(ctx, sid, saturn.AssistantMessage("calling"))
	if err != nil {
		t.Fatal(err)
	}

	tcID, err := s.SaveToolCall(ctx, mid, sid, "grep", json.RawMessage(`{"pattern":"x"}`), "coder")
	if err != nil {
		t.Fatalf("SaveToolCall: %v", err)
	}
	if tcID == 0 {
		t.Fatal("zero tool call id")
	}
	if err := s.UpdateToolCallResult(ctx, tcID, "3 matches", "", 42*time.Millisecond); err != nil {
		t.Fatalf("UpdateToolCallResult: %v", err)
	}
	if err := s.UpdateToolCallResult(ctx, tcID, "", "pattern invalid", time.Millisecond); err != nil {
		t.Fatalf("UpdateToolCallResult error case: %v", err)
	}
}
