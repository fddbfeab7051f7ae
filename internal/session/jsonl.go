package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	recordSession = "session"
	recordMessage = "message"
)

// record is one line of a session file. The first line is the session
// header; every later line is a message.
type record struct {
	Type    string   `json:"type"`
	Session *Info    `json:"session,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// JSONLStore keeps one <id>.jsonl file per session.
type JSONLStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewJSONLStore creates the directory if needed.
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &JSONLStore{dir: dir, now: time.Now}, nil
}

func (s *JSONLStore) Create(_ context.Context, workDir, model string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	info := Info{ID: newID(), WorkDir: workDir, Model: model, CreatedAt: now, UpdatedAt: now}
	f, err := os.OpenFile(s.sessionPath(info.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Info{}, fmt.Errorf("create session: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(record{Type: recordSession, Session: &info}); err != nil {
		return Info{}, fmt.Errorf("write session header: %w", err)
	}
	return info, nil
}

func (s *JSONLStore) Append(_ context.Context, id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.sessionPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	stamp(msgs, s.now().UTC())
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range msgs {
		if err := enc.Encode(record{Type: recordMessage, Message: &msgs[i]}); err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
	}
	return w.Flush()
}

func (s *JSONLStore) Load(_ context.Context, id string) (Info, []Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, msgs, err := s.read(s.sessionPath(id))
	if err != nil {
		return Info{}, nil, err
	}
	return info, LiveHistory(msgs), nil
}

func (s *JSONLStore) List(_ context.Context, limit int) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, _, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *JSONLStore) Close() error { return nil }

// read parses a session file. Malformed message lines are skipped.
func (s *JSONLStore) read(path string) (Info, []Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, nil, ErrNotFound
		}
		return Info{}, nil, err
	}
	defer f.Close()

	var (
		info   *Info
		msgs   []Message
		reader = bufio.NewReader(f)
	)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			var rec record
			if err := json.Unmarshal(line, &rec); err == nil {
				switch {
				case rec.Type == recordSession && rec.Session != nil && info == nil:
					info = rec.Session
				case rec.Type == recordMessage && rec.Message != nil:
					msgs = append(msgs, *rec.Message)
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	if info == nil {
		return Info{}, nil, fmt.Errorf("%s: missing session header", filepath.Base(path))
	}
	info.Messages = len(msgs)
	info.Title = titleFrom(msgs)
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp.After(info.UpdatedAt) {
		info.UpdatedAt = msgs[n-1].Timestamp
	}
	return *info, msgs, nil
}

func (s *JSONLStore) sessionPath(id string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(id)
	return filepath.Join(s.dir, safe+".jsonl")
}
