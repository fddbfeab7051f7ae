package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	storeVersion      = 2
	approvalsFileMode = 0600
	approvalsDirMode  = 0755
	defaultStartingID = int64(1)

	// maxDecided bounds how many finished records the ledger keeps.
	maxDecided = 500
)

type fileData struct {
	Version  int       `json:"version"`
	NextID   int64     `json:"next_id"`
	Requests []Request `json:"requests"`
}

// Store persists the confirmation ledger to disk.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a ledger at <stateDir>/approvals.json.
func NewStore(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, "approvals.json")}
}

// Path returns the ledger file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads persisted data from disk.
func (s *Store) Load() (fileData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

// Save writes persisted data to disk.
func (s *Store) Save(data fileData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(data)
}

func (s *Store) loadLocked() (fileData, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultFileData(), nil
		}
		return fileData{}, fmt.Errorf("read approval ledger: %w", err)
	}

	var parsed fileData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fileData{}, fmt.Errorf("parse approval ledger: %w", err)
	}

	normalized := normalizeFileData(parsed)
	return normalized, nil
}

func (s *Store) saveLocked(data fileData) error {
	normalized := pruneDecided(normalizeFileData(data), maxDecided)

	encoded, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approval ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), approvalsDirMode); err != nil {
		return fmt.Errorf("create approval ledger dir: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, ".approvals-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp approval ledger: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp approval ledger: %w", err)
	}
	if err := tmpFile.Chmod(approvalsFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp approval ledger: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp approval ledger: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		if removeErr := os.Remove(s.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("replace approval ledger: rename failed (%v), remove failed (%v)", err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, s.path); retryErr != nil {
			return fmt.Errorf("replace approval ledger after remove: %w", retryErr)
		}
	}
	return nil
}

func defaultFileData() fileData {
	return fileData{
		Version:  storeVersion,
		NextID:   defaultStartingID,
		Requests: []Request{},
	}
}

func normalizeFileData(data fileData) fileData {
	if data.Version <= 0 {
		data.Version = storeVersion
	}
	if data.Requests == nil {
		data.Requests = []Request{}
	}
	if data.NextID <= 0 {
		data.NextID = nextIDFromRequests(data.Requests)
	}
	return data
}

func nextIDFromRequests(requests []Request) int64 {
	maxID := int64(0)
	for _, req := range requests {
		id, err := strconv.ParseInt(req.ID, 10, 64)
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	if maxID < defaultStartingID {
		return defaultStartingID
	}
	return maxID + 1
}

// pruneDecided drops the oldest finished records beyond limit. Pending
// records are always kept.
func pruneDecided(data fileData, limit int) fileData {
	decided := 0
	for _, req := range data.Requests {
		if req.Status != StatusPending {
			decided++
		}
	}
	drop := decided - limit
	if drop <= 0 {
		return data
	}
	kept := make([]Request, 0, len(data.Requests)-drop)
	for _, req := range data.Requests {
		if drop > 0 && req.Status != StatusPending {
			drop--
			continue
		}
		kept = append(kept, req)
	}
	data.Requests = kept
	return data
}
