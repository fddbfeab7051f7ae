package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	auditFileMode = 0600
	auditDirMode  = 0755
)

// Event types.
const (
	TypeDecision   = "decision"
	TypeOperator   = "operator"
	TypeToolResult = "tool_result"
	TypeSupervisor = "supervisor"
)

// Event is one audit record written as a single JSON line.
type Event struct {
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	CallID     string    `json:"call_id,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	Op         string    `json:"op,omitempty"`
	Target     string    `json:"target,omitempty"`
	Risk       string    `json:"risk,omitempty"`
	Action     string    `json:"action,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Result     string    `json:"result,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Writer appends audit events to <stateDir>/audit.jsonl.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer under stateDir.
func NewWriter(stateDir string) *Writer {
	return &Writer{
		path: filepath.Join(stateDir, "audit.jsonl"),
	}
}

// Path returns the audit log path.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one event as one JSONL line.
func (w *Writer) Append(event Event) error {
	if w == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// Tail returns up to limit most recent events. Lines that fail to decode
// are skipped.
func (w *Writer) Tail(limit int) ([]Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan audit file: %w", err)
	}
	return events, nil
}
