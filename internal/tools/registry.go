package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Registry manages tool adapters by name
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool to registry
func (r *Registry) Register(t tool.InvokableTool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolInfos returns schema infos for binding to a chat model, sorted by name
func (r *Registry) ToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Execute runs a registered tool with raw JSON arguments
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.InvokableRun(ctx, argsJSON)
}

// Options configure the built-in tool set.
type Options struct {
	// Root anchors relative paths. It is not a security boundary.
	Root           string
	ExecTimeout    int // seconds
	MaxOutputBytes int
	MaxResults     int
}

// RegisterDefaults registers read_file, write_file, edit_file, list_files,
// search_files and bash_exec.
func RegisterDefaults(r *Registry, opts Options) error {
	constructors := []func(Options) (tool.InvokableTool, error){
		func(o Options) (tool.InvokableTool, error) { return NewReadFileTool(o.Root) },
		func(o Options) (tool.InvokableTool, error) { return NewWriteFileTool(o.Root) },
		func(o Options) (tool.InvokableTool, error) { return NewEditFileTool(o.Root) },
		func(o Options) (tool.InvokableTool, error) { return NewListFilesTool(o.Root) },
		func(o Options) (tool.InvokableTool, error) { return NewSearchFilesTool(o.Root, o.MaxResults) },
		func(o Options) (tool.InvokableTool, error) {
			return NewBashExecTool(o.Root, o.ExecTimeout, o.MaxOutputBytes)
		},
	}
	for _, build := range constructors {
		t, err := build(opts)
		if err != nil {
			return err
		}
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
