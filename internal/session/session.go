package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("session not found")

// Backends.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

const titleMaxRunes = 60

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one conversation entry. A message with Compaction set replaces
// everything logged before it when the session is loaded.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Compaction bool       `json:"compaction,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Info describes a stored session.
type Info struct {
	ID        string    `json:"id"`
	WorkDir   string    `json:"work_dir"`
	Model     string    `json:"model,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

// Store is an append-only conversation log.
type Store interface {
	Create(ctx context.Context, workDir, model string) (Info, error)
	Append(ctx context.Context, id string, msgs ...Message) error
	// Load returns the session and its live history: messages from the
	// last compaction marker on.
	Load(ctx context.Context, id string) (Info, []Message, error)
	// List returns sessions newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Info, error)
	Close() error
}

// Open returns the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendJSONL:
		return NewJSONLStore(dir)
	case BackendSQLite:
		return OpenSQLiteStore(dir)
	default:
		return nil, fmt.Errorf("unknown session backend %q", backend)
	}
}

// Last returns the most recently updated session, restricted to workDir
// when it is non-empty.
func Last(ctx context.Context, s Store, workDir string) (Info, error) {
	infos, err := s.List(ctx, 0)
	if err != nil {
		return Info{}, err
	}
	for _, info := range infos {
		if workDir == "" || info.WorkDir == workDir {
			return info, nil
		}
	}
	return Info{}, ErrNotFound
}

// Find resolves a full id or a unique id prefix.
func Find(ctx context.Context, s Store, idOrPrefix string) (Info, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return Info{}, ErrNotFound
	}
	infos, err := s.List(ctx, 0)
	if err != nil {
		return Info{}, err
	}
	var match []Info
	for _, info := range infos {
		if info.ID == idOrPrefix {
			return info, nil
		}
		if strings.HasPrefix(info.ID, idOrPrefix) {
			match = append(match, info)
		}
	}
	switch len(match) {
	case 0:
		return Info{}, ErrNotFound
	case 1:
		return match[0], nil
	default:
		return Info{}, fmt.Errorf("session prefix %q is ambiguous (%d matches)", idOrPrefix, len(match))
	}
}

// LiveHistory drops everything before the last compaction marker.
func LiveHistory(msgs []Message) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Compaction {
			return msgs[i:]
		}
	}
	return msgs
}

func newID() string { return uuid.NewString() }

// titleFrom derives a short title from the first user message.
func titleFrom(msgs []Message) string {
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		title := strings.Join(strings.Fields(m.Content), " ")
		if r := []rune(title); len(r) > titleMaxRunes {
			title = string(r[:titleMaxRunes-3]) + "..."
		}
		return title
	}
	return ""
}

func stamp(msgs []Message, now time.Time) {
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
}
