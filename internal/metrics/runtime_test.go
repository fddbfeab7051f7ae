package metrics

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func TestRuntimeMetrics_AggregatesToolStats(t *testing.T) {
	recorder := NewRuntimeMetrics(t.TempDir())

	snap, err := recorder.RecordToolExecution(120*time.Millisecond, false, nil)
	if err != nil {
		t.Fatalf("RecordToolExecution success error: %v", err)
	}
	if snap.Tool.Total != 1 || snap.Tool.Errors != 0 || snap.Tool.Timeouts != 0 {
		t.Fatalf("unexpected first tool snapshot: %+v", snap.Tool)
	}

	_, _ = recorder.RecordToolExecution(250*time.Millisecond, true, nil)
	_, _ = recorder.RecordToolExecution(2*time.Second, false, context.DeadlineExceeded)
	snap, _ = recorder.RecordToolExecution(1500*time.Millisecond, false, errors.New("search timed out"))

	if snap.Tool.Total != 4 {
		t.Fatalf("expected 4 tool executions, got %d", snap.Tool.Total)
	}
	if snap.Tool.Errors != 3 {
		t.Fatalf("expected 3 tool errors, got %d", snap.Tool.Errors)
	}
	if snap.Tool.Timeouts != 2 {
		t.Fatalf("expected 2 tool timeouts, got %d", snap.Tool.Timeouts)
	}
	if got := snap.Tool.ErrorRatio(); got < 0.74 || got > 0.76 {
		t.Fatalf("expected error ratio about 0.75, got %.4f", got)
	}
	if snap.Tool.MaxLatencyMs != 2000 {
		t.Fatalf("expected max latency 2000, got %d", snap.Tool.MaxLatencyMs)
	}
	if snap.Tool.P95ProxyLatencyMs <= 0 {
		t.Fatalf("expected p95 proxy latency > 0, got %d", snap.Tool.P95ProxyLatencyMs)
	}
}

func TestRuntimeMetrics_DecisionsAndOperator(t *testing.T) {
	recorder := NewRuntimeMetrics(t.TempDir())

	for _, action := range []string{"allow", "allow", "deny", "ask_operator", "bogus"} {
		if _, err := recorder.RecordDecision(action); err != nil {
			t.Fatalf("RecordDecision error: %v", err)
		}
	}
	_, _ = recorder.RecordOperator(OperatorApproved)
	snap, _ := recorder.RecordOperator(OperatorTimeout)

	d := snap.Decisions
	if d.Allowed != 2 || d.Denied != 1 || d.Asked != 1 {
		t.Fatalf("unexpected decision counts: %+v", d)
	}
	if d.OperatorApproved != 1 || d.OperatorTimeouts != 1 || d.OperatorDenied != 0 {
		t.Fatalf("unexpected operator counts: %+v", d)
	}
	if got := d.DenyRatio(); got != 0.25 {
		t.Fatalf("expected deny ratio 0.25, got %.4f", got)
	}
}

func TestRuntimeMetrics_PersistsAndResumes(t *testing.T) {
	stateDir := t.TempDir()
	recorder := NewRuntimeMetrics(stateDir)
	if _, err := recorder.RecordToolExecution(99*time.Millisecond, false, nil); err != nil {
		t.Fatalf("RecordToolExecution error: %v", err)
	}
	if _, err := recorder.RecordLaunch(3*time.Second, ""); err != nil {
		t.Fatalf("RecordLaunch error: %v", err)
	}
	if _, err := recorder.RecordLaunch(0, "health_timeout"); err != nil {
		t.Fatalf("RecordLaunch error: %v", err)
	}

	snap, err := ReadRuntimeSnapshot(stateDir)
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot error: %v", err)
	}
	if snap.Tool.Total != 1 || snap.Supervisor.Launches != 2 || snap.Supervisor.Failures != 1 {
		t.Fatalf("unexpected loaded snapshot: %+v", snap)
	}
	if snap.Supervisor.LastStartupMs != 3000 || snap.Supervisor.LastFailureKind != "health_timeout" {
		t.Fatalf("unexpected supervisor stats: %+v", snap.Supervisor)
	}
	if !snap.HasData() {
		t.Fatal("expected HasData")
	}

	resumed := NewRuntimeMetrics(stateDir)
	next, _ := resumed.RecordToolExecution(10*time.Millisecond, false, nil)
	if next.Tool.Total != 2 {
		t.Fatalf("expected counters to continue, got %d", next.Tool.Total)
	}
}

func TestRuntimeMetrics_ConcurrentRecordsPersist(t *testing.T) {
	stateDir := t.TempDir()
	recorder := NewRuntimeMetrics(stateDir)

	const workers = 32
	errs := make(chan error, 2*workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := recorder.RecordToolExecution(5*time.Millisecond, false, nil); err != nil {
				errs <- err
			}
			if _, err := recorder.RecordDecision("allow"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent record failed: %v", err)
	}

	snap, err := ReadRuntimeSnapshot(stateDir)
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot error: %v", err)
	}
	if snap.Tool.Total != workers || snap.Decisions.Allowed != workers {
		t.Fatalf("persisted snapshot lags the recorder: tool=%d allowed=%d", snap.Tool.Total, snap.Decisions.Allowed)
	}

	entries, err := os.ReadDir(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != runtimeMetricsFileName {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only %s in state dir, got %v", runtimeMetricsFileName, names)
	}
}

func TestReadRuntimeSnapshot_Missing(t *testing.T) {
	snap, err := ReadRuntimeSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.HasData() {
		t.Fatal("expected empty snapshot")
	}
}

func TestRuntimeMetrics_NilIsNoop(t *testing.T) {
	var m *RuntimeMetrics
	if _, err := m.RecordDecision("allow"); err != nil {
		t.Fatalf("nil recorder should be a no-op: %v", err)
	}
	if m.Snapshot().HasData() {
		t.Fatal("nil recorder should report no data")
	}
}
