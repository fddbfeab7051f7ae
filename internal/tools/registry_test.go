package tools

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Mock tool for testing
type mockTool struct {
	name string
}

func (m *mockTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: m.name,
		Desc: "A mock tool for testing",
	}, nil
}

func (m *mockTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	return "mock result: " + args, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&mockTool{name: "mock_tool"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	got, ok := reg.Get("mock_tool")
	if !ok || got == nil {
		t.Fatal("expected to find mock_tool")
	}

	if err := reg.Register(&mockTool{name: "mock_tool"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := reg.Register(&mockTool{}); err == nil {
		t.Fatal("expected nameless tool to fail")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&mockTool{name: "mock_tool"})

	out, err := reg.Execute(context.Background(), "mock_tool", `{"a":1}`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out != `mock result: {"a":1}` {
		t.Fatalf("unexpected output: %s", out)
	}

	if _, err := reg.Execute(context.Background(), "missing", "{}"); err == nil {
		t.Fatal("expected unknown tool error")
	}
}

func TestRegisterDefaults(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterDefaults(reg, Options{Root: t.TempDir(), ExecTimeout: 5, MaxOutputBytes: 1024}); err != nil {
		t.Fatalf("RegisterDefaults error: %v", err)
	}

	want := []string{"bash_exec", "edit_file", "list_files", "read_file", "search_files", "write_file"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	infos, err := reg.ToolInfos(context.Background())
	if err != nil {
		t.Fatalf("ToolInfos error: %v", err)
	}
	if len(infos) != len(want) || infos[0].Name != "bash_exec" {
		t.Fatalf("unexpected infos: %+v", infos)
	}
}
