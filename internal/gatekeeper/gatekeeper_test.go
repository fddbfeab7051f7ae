package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vorkdev/vork/internal/approval"
	"github.com/vorkdev/vork/internal/audit"
	"github.com/vorkdev/vork/internal/metrics"
	"github.com/vorkdev/vork/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	run   func(ctx context.Context, name, args string) (string, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, name, args string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, name, args)
	}
	return "ok", nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	gk       *Gatekeeper
	exec     *fakeExecutor
	broker   *approval.Broker
	audit    *audit.Writer
	metrics  *metrics.RuntimeMetrics
	boundary *policy.Boundary
}

func newFixture(t *testing.T, p policy.ApprovalPolicy, m policy.SandboxMode, op Operator, mutate func(*Config)) *fixture {
	t.Helper()
	boundary, err := policy.NewBoundary(t.TempDir())
	require.NoError(t, err)
	stateDir := t.TempDir()

	f := &fixture{
		exec:     &fakeExecutor{},
		broker:   approval.NewBroker(stateDir, time.Minute),
		audit:    audit.NewWriter(stateDir),
		metrics:  metrics.NewRuntimeMetrics(stateDir),
		boundary: boundary,
	}
	cfg := Config{
		Engine:    policy.NewEngine(policy.EngineConfig{Policy: p, Mode: m, Boundary: boundary}),
		Executor:  f.exec,
		Broker:    f.broker,
		Operator:  op,
		Audit:     f.audit,
		Metrics:   f.metrics,
		SessionID: "sess-1",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.gk = New(cfg)
	return f
}

func approveAll() Operator {
	return OperatorFunc(func(ctx context.Context, p Prompt) (bool, string, error) { return true, "ok", nil })
}

func rejectAll() Operator {
	return OperatorFunc(func(ctx context.Context, p Prompt) (bool, string, error) { return false, "", nil })
}

func silentOperator(asked *atomic.Int32) Operator {
	return OperatorFunc(func(ctx context.Context, p Prompt) (bool, string, error) {
		asked.Add(1)
		<-ctx.Done()
		return false, "", ctx.Err()
	})
}

func TestHandle_AllowedCallExecutes(t *testing.T) {
	f := newFixture(t, policy.PolicyAuto, policy.SandboxWorkspaceWrite, nil, nil)

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "write_file", Arguments: `{"path":"notes.md","content":"x"}`})
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "c1", res.CallID)
	require.Equal(t, "ok", res.Output)
	require.Equal(t, 1, f.exec.count())

	snap := f.metrics.Snapshot()
	require.EqualValues(t, 1, snap.Decisions.Allowed)
	require.EqualValues(t, 1, snap.Tool.Total)

	events, err := f.audit.Tail(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, audit.TypeDecision, events[0].Type)
	require.Equal(t, "sess-1", events[0].SessionID)
}

func TestHandle_DeniedCallNeverExecutes(t *testing.T) {
	f := newFixture(t, policy.PolicyNever, policy.SandboxDangerFullAccess, approveAll(), nil)

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "bash_exec", Arguments: `{"command":"sudo rm -rf /"}`})
	require.Equal(t, StatusDenied, res.Status)
	require.Contains(t, res.Output, "blocked operation")
	require.Zero(t, f.exec.count())
}

func TestHandle_UnattendedAskIsDenied(t *testing.T) {
	f := newFixture(t, policy.PolicyAuto, policy.SandboxWorkspaceWrite, nil, nil)

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "bash_exec", Arguments: `{"command":"rm -rf ./build"}`})
	require.Equal(t, StatusDenied, res.Status)
	require.Contains(t, res.Output, "no operator")
	require.Zero(t, f.exec.count())
	require.EqualValues(t, 1, f.gk.UnattendedDenials())
	require.False(t, f.gk.Interactive())
}

func TestHandle_OperatorApproves(t *testing.T) {
	var seen Prompt
	op := OperatorFunc(func(ctx context.Context, p Prompt) (bool, string, error) {
		seen = p
		return true, "go ahead", nil
	})
	f := newFixture(t, policy.PolicyAuto, policy.SandboxWorkspaceWrite, op, nil)

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "bash_exec", Arguments: `{"command":"rm -rf ./build"}`})
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 1, f.exec.count())
	require.Equal(t, "Execute command: rm -rf ./build", seen.Description)
	require.Equal(t, policy.RiskRequiresApproval, seen.Risk)

	ledger, err := f.broker.List(approval.Query{})
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	require.Equal(t, approval.StatusApproved, ledger[0].Status)
	require.Equal(t, "c1", ledger[0].CallID)
	require.Equal(t, "sess-1", ledger[0].SessionID)
}

func TestHandle_OperatorRejects(t *testing.T) {
	f := newFixture(t, policy.PolicyAlwaysAsk, policy.SandboxWorkspaceWrite, rejectAll(), nil)

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "read_file", Arguments: `{"path":"main.go"}`})
	require.Equal(t, StatusDenied, res.Status)
	require.Contains(t, res.Output, "rejected")
	require.Zero(t, f.exec.count())
	require.EqualValues(t, 1, f.metrics.Snapshot().Decisions.OperatorDenied)
}

func TestHandle_OperatorTimeoutIsDeny(t *testing.T) {
	var asked atomic.Int32
	f := newFixture(t, policy.PolicyAlwaysAsk, policy.SandboxWorkspaceWrite, silentOperator(&asked), func(c *Config) {
		c.OperatorTimeout = 50 * time.Millisecond
	})

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "list_files", Arguments: `{}`})
	require.Equal(t, StatusDenied, res.Status)
	require.Contains(t, res.Output, "did not respond")
	require.Zero(t, f.exec.count())
	require.EqualValues(t, 1, asked.Load())

	ledger, err := f.broker.List(approval.Query{})
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	require.Equal(t, approval.StatusExpired, ledger[0].Status)
	require.EqualValues(t, 1, f.metrics.Snapshot().Decisions.OperatorTimeouts)
}

func TestHandle_OperatorTimeoutWithoutLedger(t *testing.T) {
	var asked atomic.Int32
	f := newFixture(t, policy.PolicyAlwaysAsk, policy.SandboxWorkspaceWrite, silentOperator(&asked), func(c *Config) {
		c.Broker = nil
		c.OperatorTimeout = 50 * time.Millisecond
	})

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "list_files", Arguments: `{}`})
	require.Equal(t, StatusDenied, res.Status)
	require.Contains(t, res.Output, "did not respond")
	require.Zero(t, f.exec.count())
}

func TestHandle_CancelledWhileAwaitingOperator(t *testing.T) {
	var asked atomic.Int32
	f := newFixture(t, policy.PolicyAlwaysAsk, policy.SandboxWorkspaceWrite, silentOperator(&asked), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res := f.gk.Handle(ctx, Call{ID: "c1", Name: "list_files", Arguments: `{}`})
	require.Equal(t, StatusDenied, res.Status)
	require.Zero(t, f.exec.count())
}

func TestHandle_MalformedArguments(t *testing.T) {
	f := newFixture(t, policy.PolicyNever, policy.SandboxDangerFullAccess, nil, nil)

	for _, call := range []Call{
		{ID: "c1", Name: "bash_exec", Arguments: `{"command":`},
		{ID: "c2", Name: "bash_exec", Arguments: `{"command":""}`},
		{ID: "c3", Name: "write_file", Arguments: `{"path":42}`},
		{ID: "c4", Name: "teleport", Arguments: `{}`},
	} {
		res := f.gk.Handle(context.Background(), call)
		require.Equal(t, StatusError, res.Status, call.ID)
		require.True(t, strings.HasPrefix(res.Output, "Error:"), res.Output)
	}
	require.Zero(t, f.exec.count())

	_, err := RequestFor(Call{Name: "bash_exec", Arguments: `{}`})
	require.ErrorIs(t, err, ErrMalformedArguments)
}

func TestHandle_ExitCodeAndTruncation(t *testing.T) {
	f := newFixture(t, policy.PolicyNever, policy.SandboxDangerFullAccess, nil, func(c *Config) {
		c.MaxOutputBytes = 64
	})
	f.exec.run = func(ctx context.Context, name, args string) (string, error) {
		if strings.Contains(args, "fail") {
			return `{"stdout":"","stderr":"boom","exit_code":2}`, nil
		}
		return `{"stdout":"` + strings.Repeat("é", 100) + `","exit_code":0}`, nil
	}

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "bash_exec", Arguments: `{"command":"fail"}`})
	require.Equal(t, StatusError, res.Status)
	require.NotNil(t, res.ExitCode)
	require.Equal(t, 2, *res.ExitCode)

	res = f.gk.Handle(context.Background(), Call{ID: "c2", Name: "bash_exec", Arguments: `{"command":"loud"}`})
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 0, *res.ExitCode)
	require.Contains(t, res.Output, "...[truncated")
	require.True(t, strings.HasPrefix(res.Output, `{"stdout":"`))
	require.NotContains(t, res.Output, "�")
}

func TestHandle_AdapterErrorAndTimeout(t *testing.T) {
	f := newFixture(t, policy.PolicyNever, policy.SandboxDangerFullAccess, nil, func(c *Config) {
		c.SearchTimeout = 30 * time.Millisecond
	})
	f.exec.run = func(ctx context.Context, name, args string) (string, error) {
		if name == "search_files" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "", errors.New("open missing.txt: no such file or directory")
	}

	res := f.gk.Handle(context.Background(), Call{ID: "c1", Name: "read_file", Arguments: `{"path":"missing.txt"}`})
	require.Equal(t, StatusError, res.Status)
	require.Contains(t, res.Output, "no such file")

	res = f.gk.Handle(context.Background(), Call{ID: "c2", Name: "search_files", Arguments: `{"pattern":"x"}`})
	require.Equal(t, StatusError, res.Status)
	require.Contains(t, res.Output, "timed out")
	require.EqualValues(t, 1, f.metrics.Snapshot().Tool.Timeouts)
}

func TestHandle_WritesToSamePathSerialize(t *testing.T) {
	f := newFixture(t, policy.PolicyNever, policy.SandboxWorkspaceWrite, nil, nil)

	var inFlight, maxInFlight atomic.Int32
	f.exec.run = func(ctx context.Context, name, args string) (string, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Different spellings of the same canonical path.
			path := "notes.md"
			if i%2 == 1 {
				path = "./sub/../notes.md"
			}
			f.gk.Handle(context.Background(), Call{ID: "w", Name: "write_file", Arguments: `{"path":"` + path + `","content":"x"}`})
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, maxInFlight.Load())
	require.Equal(t, 8, f.exec.count())
	require.Zero(t, f.gk.pathLocks.size())
}

func TestHandleBatch_ParallelReads(t *testing.T) {
	f := newFixture(t, policy.PolicyAuto, policy.SandboxWorkspaceWrite, nil, nil)

	var arrived sync.WaitGroup
	arrived.Add(2)
	f.exec.run = func(ctx context.Context, name, args string) (string, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() { arrived.Wait(); close(done) }()
		select {
		case <-done:
			return "read", nil
		case <-time.After(2 * time.Second):
			return "", errors.New("reads were not run concurrently")
		}
	}

	results := f.gk.HandleBatch(context.Background(), []Call{
		{ID: "r1", Name: "read_file", Arguments: `{"path":"a.go"}`},
		{ID: "r2", Name: "list_files", Arguments: `{}`},
	})
	require.Len(t, results, 2)
	for i, res := range results {
		require.Equal(t, StatusSuccess, res.Status, res.Output)
		require.Equal(t, []string{"r1", "r2"}[i], res.CallID)
	}
}

func TestHandleBatch_MixedBatchRunsInOrder(t *testing.T) {
	f := newFixture(t, policy.PolicyNever, policy.SandboxWorkspaceWrite, nil, nil)

	results := f.gk.HandleBatch(context.Background(), []Call{
		{ID: "w1", Name: "write_file", Arguments: `{"path":"a.txt","content":"x"}`},
		{ID: "r1", Name: "read_file", Arguments: `{"path":"a.txt"}`},
		{ID: "x1", Name: "bash_exec", Arguments: `{"command":"sudo ls"}`},
	})
	require.Equal(t, []string{"write_file", "read_file"}, f.exec.calls)
	require.Equal(t, StatusDenied, results[2].Status)
}

func TestResultContent(t *testing.T) {
	code := 1
	got := Result{CallID: "c1", Status: StatusError, Output: "x", ExitCode: &code}.Content()
	require.JSONEq(t, `{"call_id":"c1","status":"error","output":"x","exit_code":1}`, got)

	got = Result{CallID: "c2", Status: StatusDenied, Output: "Denied: no"}.Content()
	require.JSONEq(t, `{"call_id":"c2","status":"denied","output":"Denied: no"}`, got)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abc\n...[truncated 3 bytes]", truncate("abcdef", 3))
	require.Equal(t, "a\n...[truncated 2 bytes]", truncate("aé", 2))
}
