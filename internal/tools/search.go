package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const (
	defaultMaxResults = 100
	maxSearchFileSize = 2 << 20
	maxMatchLineLen   = 300
)

// SearchFilesInput parameters for search_files tool
type SearchFilesInput struct {
	Pattern       string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path          string `json:"path" jsonschema:"description=Directory to search (default workspace root)"`
	Include       string `json:"include" jsonschema:"description=Glob filter on relative file paths such as **/*.go"`
	CaseSensitive bool   `json:"case_sensitive" jsonschema:"description=Match case exactly (default false)"`
}

// SearchMatch is one matching line.
type SearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SearchFilesOutput result of search_files tool
type SearchFilesOutput struct {
	Matches   []SearchMatch `json:"matches"`
	Truncated bool          `json:"truncated,omitempty"`
}

type searchFilesToolImpl struct {
	root       string
	maxResults int
}

func (t *searchFilesToolImpl) execute(ctx context.Context, input *SearchFilesInput) (*SearchFilesOutput, error) {
	if input.Pattern == "" {
		return nil, fmt.Errorf("pattern must not be empty")
	}
	expr := input.Pattern
	if !input.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if input.Include != "" && !doublestar.ValidatePattern(input.Include) {
		return nil, fmt.Errorf("invalid include glob %q", input.Include)
	}

	base := resolvePath(t.root, input.Path)
	out := &SearchFilesOutput{Matches: []SearchMatch{}}

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != base && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		rel = filepath.ToSlash(rel)
		if input.Include != "" {
			ok, _ := doublestar.Match(input.Include, rel)
			if !ok {
				ok, _ = doublestar.Match(input.Include, d.Name())
			}
			if !ok {
				return nil
			}
		}
		done, err := t.scanFile(path, rel, re, out)
		if err != nil {
			return nil
		}
		if done {
			out.Truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanFile appends matches from one file and reports whether the result cap
// was reached.
func (t *searchFilesToolImpl) scanFile(path, rel string, re *regexp.Regexp, out *SearchFilesOutput) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchFileSize {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	head, _ := reader.Peek(8000)
	if bytes.IndexByte(head, 0) >= 0 {
		return false, nil
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxSearchFileSize)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(text) > maxMatchLineLen {
			text = text[:maxMatchLineLen] + "..."
		}
		out.Matches = append(out.Matches, SearchMatch{Path: rel, Line: line, Text: text})
		if len(out.Matches) >= t.maxResults {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// NewSearchFilesTool creates the search_files tool
func NewSearchFilesTool(root string, maxResults int) (tool.InvokableTool, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	impl := &searchFilesToolImpl{root: root, maxResults: maxResults}
	return utils.InferTool("search_files", "Search file contents for a regular expression", impl.execute)
}
