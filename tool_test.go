package saturn

import (
	"context"
	"encoding/json"
	"testing"
)

type namedTool struct {
	name string
	tag  string
}

func (n namedTool) Definition() ToolDefinition {
	return ToolDefinition{Name: n.name, Description: "test tool " + n.tag}
}

func (n namedTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: n.tag}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(namedTool{name: "Search", tag: "v1"})

	// Lookup is case-insensitive.
	for _, name := range []string{"Search", "search", "SEARCH"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("Get(%q) missed", name)
		}
	}
	if r.Contains("absent") {
		t.Error("Contains reported an unregistered tool")
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(namedTool{name: "search", tag: "v1"})
	r.Register(namedTool{name: "SEARCH", tag: "v2"})

	got, ok := r.Get("search")
	if !ok {
		t.Fatal("tool missing after re-registration")
	}
	res, _ := got.Execute(context.Background(), nil)
	if res.Content != "v2" {
		t.Errorf("got %q, want the later registration v2", res.Content)
	}
	if n := len(r.List()); n != 1 {
		t.Errorf("List length = %d, want 1", n)
	}
}

func TestRegistryDefinitionsSortedWithDefaults(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(namedTool{name: "zeta", tag: "z"})
	r.Register(namedTool{name: "alpha", tag: "a"})

	defs := r.Definitions(nil)
	if len(defs) != 2 {
		t.Fatalf("definitions = %d", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("definitions not sorted: %s, %s", defs[0].Name, defs[1].Name)
	}
	// Tools without declared parameters get an empty object schema.
	want := `{"type":"object","properties":{}}`
	if string(defs[0].Parameters) != want {
		t.Errorf("default parameters = %s", defs[0].Parameters)
	}
}

func TestRegistryDefinitionsAllowlist(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(namedTool{name: "read_file", tag: "r"})
	r.Register(namedTool{name: "write_file", tag: "w"})
	r.Register(namedTool{name: "execute_command", tag: "x"})

	defs := r.Definitions([]string{"READ_FILE", "write_file"})
	if len(defs) != 2 {
		t.Fatalf("allowlisted definitions = %d, want 2", len(defs))
	}
	for _, d := range defs {
		if d.Name == "execute_command" {
			t.Error("allowlist leaked an excluded tool")
		}
	}

	// An empty (non-nil) allowlist exposes nothing.
	if defs := r.Definitions([]string{}); len(defs) != 0 {
		t.Errorf("empty allowlist exposed %d tools", len(defs))
	}
	// A nil allowlist exposes everything.
	if defs := r.Definitions(nil); len(defs) != 3 {
		t.Errorf("nil allowlist exposed %d tools, want 3", len(defs))
	}
}

func TestToolResultSuccess(t *testing.T) {
	if !(ToolResult{Content: "ok"}).Success() {
		t.Error("result without error must be a success")
	}
	if (ToolResult{Error: "bad"}).Success() {
		t.Error("result with error must not be a success")
	}
}
