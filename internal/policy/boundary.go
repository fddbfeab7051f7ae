package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyPath is returned when a tool call names no path.
var ErrEmptyPath = errors.New("path is empty")

// Boundary anchors tool paths to a workspace root and answers whether an
// operation is possible at all under a sandbox mode.
type Boundary struct {
	root string
}

// NewBoundary canonicalizes root. The root must exist.
func NewBoundary(root string) (*Boundary, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root: %w", ErrEmptyPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	return &Boundary{root: real}, nil
}

// Root returns the canonical workspace root.
func (b *Boundary) Root() string {
	return b.root
}

// Resolve turns a tool path into a canonical absolute path. Relative paths
// are anchored at the root. Every symlink along the way is expanded, dangling
// ones included, so the result is where a write would really go.
func (b *Boundary) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrEmptyPath
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.root, path)
	}
	return canonicalize(filepath.Clean(path))
}

// Rel returns target relative to the root and whether target is inside it.
func (b *Boundary) Rel(target string) (string, bool) {
	rel, err := filepath.Rel(b.root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

// Contains reports whether a canonical path is the root or below it.
func (b *Boundary) Contains(target string) bool {
	_, ok := b.Rel(target)
	return ok
}

// Permits reports whether op on target is possible under mode. Always-blocked
// operations are refused in every mode.
func (b *Boundary) Permits(mode SandboxMode, op OpKind, target string, risk RiskClass) (bool, string) {
	if risk == RiskAlwaysBlocked {
		return false, "blocked operation"
	}
	switch mode {
	case SandboxReadOnly:
		if op == OpRead {
			return true, ""
		}
		return false, fmt.Sprintf("%s is not permitted in the read-only sandbox", op)
	case SandboxWorkspaceWrite:
		switch op {
		case OpRead, OpExecute:
			return true, ""
		case OpWrite:
			if b.Contains(target) {
				return true, ""
			}
			return false, "write outside the workspace root " + b.root
		case OpNetwork:
			return false, "network access is disabled in the workspace-write sandbox"
		}
	case SandboxDangerFullAccess:
		return true, ""
	}
	return false, fmt.Sprintf("unknown sandbox mode %q or operation %q", mode, op)
}

// maxSymlinkHops bounds link expansion, matching the usual ELOOP limit.
const maxSymlinkHops = 40

// canonicalize resolves path one component at a time. Each symlink is
// expanded from its Readlink target even when that target does not exist,
// so a dangling link resolves to where a write through it would land.
// Components that do not exist are kept as written.
func canonicalize(path string) (string, error) {
	vol := filepath.VolumeName(path)
	pending := splitComponents(path[len(vol):])
	resolved := vol + string(filepath.Separator)
	hops := 0
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		switch name {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}
		next := filepath.Join(resolved, name)
		info, err := os.Lstat(next)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}
		hops++
		if hops > maxSymlinkHops {
			return "", fmt.Errorf("%s: too many levels of symbolic links", path)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("read link %s: %w", next, err)
		}
		if filepath.IsAbs(target) {
			tvol := filepath.VolumeName(target)
			resolved = tvol + string(filepath.Separator)
			target = target[len(tvol):]
		}
		pending = append(splitComponents(target), pending...)
	}
	return resolved, nil
}

func splitComponents(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
}
