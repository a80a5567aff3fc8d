package session

import (
	"testing"

	"github.com/stupid-ve/ChatLab/llm"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := New("trip")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ID == "" {
		t.Error("session needs a generated id")
	}
	s.Append(llm.Message{Role: llm.RoleUser, Content: "hello"})
	s.Append(llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "search_messages", Arguments: `{"keyword":"hi"}`},
		},
	})
	s.Append(llm.Message{Role: llm.RoleTool, Content: "found 2", ToolCallID: "c1"})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load("trip")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != s.ID {
		t.Errorf("id changed across reload: %q vs %q", loaded.ID, s.ID)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("messages = %d", len(loaded.Messages))
	}
	if loaded.Messages[1].ToolCalls[0].Arguments != `{"keyword":"hi"}` {
		t.Errorf("tool call not preserved: %+v", loaded.Messages[1])
	}
	if loaded.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool turn lost its call id: %+v", loaded.Messages[2])
	}
}

func TestLoadOrNewCreatesThenResumes(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first, err := LoadOrNew("work")
	if err != nil {
		t.Fatalf("LoadOrNew: %v", err)
	}
	first.Append(llm.Message{Role: llm.RoleUser, Content: "x"})
	if err := first.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := LoadOrNew("work")
	if err != nil {
		t.Fatalf("LoadOrNew resume: %v", err)
	}
	if second.ID != first.ID || len(second.Messages) != 1 {
		t.Errorf("resume did not load existing session: %+v", second)
	}
}

func TestListSortsNames(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	for _, name := range []string{"zeta", "alpha"} {
		s, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Save(); err != nil {
			t.Fatal(err)
		}
	}

	names, err := List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("names = %v", names)
	}
}
