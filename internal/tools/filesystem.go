package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const maxListEntries = 1000

// resolvePath anchors a tool path at root. Access control happens before the
// adapter runs, so this only resolves.
func resolvePath(root, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "."
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	return filepath.Clean(path)
}

// refuseSymlinkLeaf keeps writes from following a link planted at the final
// path component. The approval decision was made for the link's target; the
// model has to name that target to write it.
func refuseSymlinkLeaf(path, display string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%s is a symbolic link; write to its target path instead", display)
	}
	return nil
}

// ReadFileInput parameters for read_file tool
type ReadFileInput struct {
	Path   string `json:"path" jsonschema:"required,description=File path relative to the workspace or absolute"`
	Offset int    `json:"offset" jsonschema:"description=Starting line number (0-based)"`
	Limit  int    `json:"limit" jsonschema:"description=Maximum number of lines to read"`
}

// ReadFileOutput result of read_file tool
type ReadFileOutput struct {
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines"`
}

type readFileToolImpl struct {
	root string
}

func (t *readFileToolImpl) execute(ctx context.Context, input *ReadFileInput) (*ReadFileOutput, error) {
	data, err := os.ReadFile(resolvePath(t.root, input.Path))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)

	if input.Offset > 0 {
		if input.Offset >= len(lines) {
			lines = []string{}
		} else {
			lines = lines[input.Offset:]
		}
	}

	if input.Limit > 0 && input.Limit < len(lines) {
		lines = lines[:input.Limit]
	}

	return &ReadFileOutput{
		Content:    strings.Join(lines, "\n"),
		TotalLines: totalLines,
	}, nil
}

// NewReadFileTool creates the read_file tool
func NewReadFileTool(root string) (tool.InvokableTool, error) {
	impl := &readFileToolImpl{root: root}
	return utils.InferTool("read_file", "Read the contents of a file", impl.execute)
}

// WriteFileInput parameters for write_file tool
type WriteFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the workspace or absolute"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
}

type writeFileToolImpl struct {
	root string
}

func (t *writeFileToolImpl) execute(ctx context.Context, input *WriteFileInput) (string, error) {
	path := resolvePath(t.root, input.Path)
	if err := refuseSymlinkLeaf(path, input.Path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(input.Content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(input.Content), input.Path), nil
}

// NewWriteFileTool creates the write_file tool
func NewWriteFileTool(root string) (tool.InvokableTool, error) {
	impl := &writeFileToolImpl{root: root}
	return utils.InferTool("write_file", "Create or overwrite a file with the given content", impl.execute)
}

// EditFileInput parameters for edit_file tool.
type EditFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the workspace or absolute"`
	OldText string `json:"old_text" jsonschema:"required,description=Exact existing text to replace"`
	NewText string `json:"new_text" jsonschema:"required,description=Replacement text"`
}

type editFileToolImpl struct {
	root string
}

func (t *editFileToolImpl) execute(ctx context.Context, input *EditFileInput) (string, error) {
	if input.OldText == "" {
		return "", fmt.Errorf("old_text must not be empty")
	}
	path := resolvePath(t.root, input.Path)
	if err := refuseSymlinkLeaf(path, input.Path); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, input.OldText); {
	case n == 0:
		return "", fmt.Errorf("old_text not found in file")
	case n > 1:
		return "", fmt.Errorf("old_text matches multiple locations (%d); provide a unique snippet", n)
	}

	updated := strings.Replace(content, input.OldText, input.NewText, 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", err
	}
	return "File edited successfully", nil
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(root string) (tool.InvokableTool, error) {
	impl := &editFileToolImpl{root: root}
	return utils.InferTool("edit_file", "Replace one exact snippet in a file (old_text -> new_text)", impl.execute)
}

// ListFilesInput parameters for list_files tool
type ListFilesInput struct {
	Path      string `json:"path" jsonschema:"description=Directory to list (default workspace root)"`
	Recursive bool   `json:"recursive" jsonschema:"description=Descend into subdirectories"`
	MaxDepth  int    `json:"max_depth" jsonschema:"description=Maximum depth when recursive (default 3)"`
}

// ListFilesOutput result of list_files tool
type ListFilesOutput struct {
	Entries   []string `json:"entries"`
	Truncated bool     `json:"truncated,omitempty"`
}

type listFilesToolImpl struct {
	root string
}

func (t *listFilesToolImpl) execute(ctx context.Context, input *ListFilesInput) (*ListFilesOutput, error) {
	base := resolvePath(t.root, input.Path)
	info, err := os.Stat(base)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", input.Path)
	}

	out := &ListFilesOutput{Entries: []string{}}
	if !input.Recursive {
		entries, err := os.ReadDir(base)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			out.Entries = append(out.Entries, name)
		}
		return out, nil
	}

	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == base {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if d.IsDir() {
			if skipDir(d.Name()) || depth > maxDepth {
				return filepath.SkipDir
			}
			rel += "/"
		}
		if len(out.Entries) >= maxListEntries {
			out.Truncated = true
			return filepath.SkipAll
		}
		out.Entries = append(out.Entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out.Entries)
	return out, nil
}

// NewListFilesTool creates the list_files tool
func NewListFilesTool(root string) (tool.InvokableTool, error) {
	impl := &listFilesToolImpl{root: root}
	return utils.InferTool("list_files", "List the contents of a directory", impl.execute)
}

func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "target", ".venv", "__pycache__":
		return true
	}
	return false
}
