package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const runtimeMetricsFileName = "runtime_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// RuntimeSnapshot contains aggregated metrics for tool calls, gatekeeper
// decisions and server launches.
type RuntimeSnapshot struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	Tool       ToolStats       `json:"tool"`
	Decisions  DecisionStats   `json:"decisions"`
	Supervisor SupervisorStats `json:"supervisor"`
}

// ToolStats tracks tool execution metrics.
type ToolStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (t ToolStats) ErrorRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Errors) / float64(t.Total)
}

// TimeoutRatio returns timeouts/total in [0,1].
func (t ToolStats) TimeoutRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Timeouts) / float64(t.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (t ToolStats) AvgLatencyMs() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.Total)
}

// DecisionStats counts gatekeeper outcomes.
type DecisionStats struct {
	Allowed          int64 `json:"allowed"`
	Denied           int64 `json:"denied"`
	Asked            int64 `json:"asked"`
	OperatorApproved int64 `json:"operator_approved"`
	OperatorDenied   int64 `json:"operator_denied"`
	OperatorTimeouts int64 `json:"operator_timeouts"`
}

// DenyRatio returns denied/(allowed+denied+asked) in [0,1].
func (d DecisionStats) DenyRatio() float64 {
	total := d.Allowed + d.Denied + d.Asked
	if total <= 0 {
		return 0
	}
	return float64(d.Denied) / float64(total)
}

// SupervisorStats tracks inference server launches.
type SupervisorStats struct {
	Launches        int64  `json:"launches"`
	Failures        int64  `json:"failures"`
	LastStartupMs   int64  `json:"last_startup_ms"`
	LastFailureKind string `json:"last_failure_kind,omitempty"`
}

// HasData reports whether any runtime metrics were recorded.
func (s RuntimeSnapshot) HasData() bool {
	d := s.Decisions
	return s.Tool.Total > 0 || d.Allowed+d.Denied+d.Asked > 0 || s.Supervisor.Launches > 0
}

// Operator outcomes accepted by RecordOperator.
const (
	OperatorApproved = "approved"
	OperatorDenied   = "denied"
	OperatorTimeout  = "timeout"
)

// RuntimeMetrics records and persists runtime metrics.
type RuntimeMetrics struct {
	path string

	mu      sync.Mutex
	snap    RuntimeSnapshot
	buckets []int64

	persistMu sync.Mutex
}

// NewRuntimeMetrics creates a recorder persisting to <stateDir>/runtime_metrics.json.
// Counters continue from a previously persisted snapshot when one exists.
func NewRuntimeMetrics(stateDir string) *RuntimeMetrics {
	m := &RuntimeMetrics{
		path:    runtimeMetricsPath(stateDir),
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
	if prev, err := ReadRuntimeSnapshot(stateDir); err == nil {
		m.snap = prev
	}
	return m
}

// Snapshot returns the latest in-memory snapshot.
func (m *RuntimeMetrics) Snapshot() RuntimeSnapshot {
	if m == nil {
		return RuntimeSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordToolExecution updates tool metrics and persists the snapshot. failed
// marks adapter failures that did not surface as a Go error, such as a
// nonzero exit status.
func (m *RuntimeMetrics) RecordToolExecution(duration time.Duration, failed bool, runErr error) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}

	now := time.Now().UTC()
	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	m.mu.Lock()
	m.snap.UpdatedAt = now
	m.snap.Tool.Total++
	m.snap.Tool.TotalLatencyMs += latencyMs
	m.snap.Tool.LastLatencyMs = latencyMs
	if latencyMs > m.snap.Tool.MaxLatencyMs {
		m.snap.Tool.MaxLatencyMs = latencyMs
	}
	if runErr != nil || failed {
		m.snap.Tool.Errors++
		if isTimeoutError(runErr) {
			m.snap.Tool.Timeouts++
		}
	}

	m.buckets[latencyBucketIndex(latencyMs)]++
	m.snap.Tool.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, sum(m.buckets))
	m.mu.Unlock()

	return m.commit()
}

// RecordDecision counts an engine action: allow, deny or ask_operator.
func (m *RuntimeMetrics) RecordDecision(action string) (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		switch action {
		case "allow":
			s.Decisions.Allowed++
		case "deny":
			s.Decisions.Denied++
		case "ask_operator":
			s.Decisions.Asked++
		}
	})
}

// RecordOperator counts the outcome of an operator confirmation.
func (m *RuntimeMetrics) RecordOperator(outcome string) (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		switch outcome {
		case OperatorApproved:
			s.Decisions.OperatorApproved++
		case OperatorDenied:
			s.Decisions.OperatorDenied++
		case OperatorTimeout:
			s.Decisions.OperatorTimeouts++
		}
	})
}

// RecordLaunch counts a supervisor cycle. failureKind is empty on success.
func (m *RuntimeMetrics) RecordLaunch(startup time.Duration, failureKind string) (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		s.Supervisor.Launches++
		if failureKind != "" {
			s.Supervisor.Failures++
			s.Supervisor.LastFailureKind = failureKind
			return
		}
		s.Supervisor.LastStartupMs = startup.Milliseconds()
	})
}

func (m *RuntimeMetrics) update(fn func(*RuntimeSnapshot)) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}
	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	fn(&m.snap)
	m.mu.Unlock()

	return m.commit()
}

// commit persists the current snapshot. Writers are serialized so the file
// never moves backwards to an older snapshot.
func (m *RuntimeMetrics) commit() (RuntimeSnapshot, error) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	snapshot := m.snap
	m.mu.Unlock()

	return snapshot, persistRuntimeSnapshot(m.path, snapshot)
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// ReadRuntimeSnapshot reads the persisted snapshot from stateDir.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadRuntimeSnapshot(stateDir string) (RuntimeSnapshot, error) {
	path := runtimeMetricsPath(stateDir)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeSnapshot{}, nil
		}
		return RuntimeSnapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}

	var snap RuntimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return RuntimeSnapshot{}, fmt.Errorf("decode runtime metrics: %w", err)
	}
	return snap, nil
}

func runtimeMetricsPath(stateDir string) string {
	return filepath.Join(stateDir, runtimeMetricsFileName)
}

func persistRuntimeSnapshot(path string, snapshot RuntimeSnapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode runtime metrics: %w", err)
	}

	// A unique temp file per write; other processes share the state dir.
	tmp, err := os.CreateTemp(filepath.Dir(path), runtimeMetricsFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create runtime metrics temp file: %w", err)
	}
	tempPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write runtime metrics temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close runtime metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename runtime metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(runErr error) bool {
	if runErr == nil {
		return false
	}
	if errors.Is(runErr, context.DeadlineExceeded) {
		return true
	}
	lowered := strings.ToLower(runErr.Error())
	return strings.Contains(lowered, "deadline exceeded") ||
		strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out")
}
