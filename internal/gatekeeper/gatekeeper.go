package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/vorkdev/vork/internal/approval"
	"github.com/vorkdev/vork/internal/audit"
	"github.com/vorkdev/vork/internal/metrics"
	"github.com/vorkdev/vork/internal/policy"
	"github.com/vorkdev/vork/internal/tools"
)

const (
	defaultExecTimeout     = 60 * time.Second
	defaultSearchTimeout   = 30 * time.Second
	defaultOperatorTimeout = 2 * time.Minute
	defaultMaxOutputBytes  = 32 * 1024
	maxParallelReads       = 4

	nonInteractiveReason = "operator approval required but no operator is available"
)

// Config wires a Gatekeeper. Operator nil means unattended mode, where every
// call that needs confirmation is denied.
type Config struct {
	Engine          policy.Engine
	Executor        Executor
	Broker          *approval.Broker
	Operator        Operator
	Audit           *audit.Writer
	Metrics         *metrics.RuntimeMetrics
	SessionID       string
	ExecTimeout     time.Duration
	SearchTimeout   time.Duration
	OperatorTimeout time.Duration
	MaxOutputBytes  int
}

// Gatekeeper runs every tool call through the engine and, when permitted,
// through its adapter. It has no side effects of its own beyond the audit
// log and approval ledger.
type Gatekeeper struct {
	engine          policy.Engine
	executor        Executor
	broker          *approval.Broker
	operator        Operator
	audit           *audit.Writer
	metrics         *metrics.RuntimeMetrics
	sessionID       string
	execTimeout     time.Duration
	searchTimeout   time.Duration
	operatorTimeout time.Duration
	maxOutput       int

	pathLocks      keyedMutex
	unattendedDeny atomic.Int64
}

// New builds a Gatekeeper, filling zero limits with defaults.
func New(cfg Config) *Gatekeeper {
	g := &Gatekeeper{
		engine:          cfg.Engine,
		executor:        cfg.Executor,
		broker:          cfg.Broker,
		operator:        cfg.Operator,
		audit:           cfg.Audit,
		metrics:         cfg.Metrics,
		sessionID:       cfg.SessionID,
		execTimeout:     cfg.ExecTimeout,
		searchTimeout:   cfg.SearchTimeout,
		operatorTimeout: cfg.OperatorTimeout,
		maxOutput:       cfg.MaxOutputBytes,
	}
	if g.execTimeout <= 0 {
		g.execTimeout = defaultExecTimeout
	}
	if g.searchTimeout <= 0 {
		g.searchTimeout = defaultSearchTimeout
	}
	if g.operatorTimeout <= 0 {
		g.operatorTimeout = defaultOperatorTimeout
	}
	if g.maxOutput <= 0 {
		g.maxOutput = defaultMaxOutputBytes
	}
	return g
}

// Interactive reports whether an operator is attached.
func (g *Gatekeeper) Interactive() bool {
	return g.operator != nil
}

// UnattendedDenials counts calls denied because confirmation was needed but
// no operator was attached.
func (g *Gatekeeper) UnattendedDenials() int64 {
	return g.unattendedDeny.Load()
}

// SetSessionID tags subsequent audit and ledger records.
func (g *Gatekeeper) SetSessionID(id string) {
	g.sessionID = id
}

// HandleBatch processes the tool calls of one model turn. Calls run
// concurrently only when every call in the batch is a read.
func (g *Gatekeeper) HandleBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) > 1 && allReads(calls) {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(maxParallelReads)
		for i, call := range calls {
			eg.Go(func() error {
				results[i] = g.Handle(egCtx, call)
				return nil
			})
		}
		_ = eg.Wait()
		return results
	}
	for i, call := range calls {
		results[i] = g.Handle(ctx, call)
	}
	return results
}

// Handle runs one tool call to completion. Refusals and adapter failures are
// returned as results, never as errors.
func (g *Gatekeeper) Handle(ctx context.Context, call Call) Result {
	log := slog.With("call_id", call.ID, "tool", call.Name)

	req, err := RequestFor(call)
	if err != nil {
		log.Warn("tool call rejected", "error", err)
		g.record(audit.Event{Type: audit.TypeToolResult, CallID: call.ID, Tool: call.Name, Result: string(StatusError), Reason: err.Error()})
		return Result{CallID: call.ID, Status: StatusError, Output: "Error: " + err.Error()}
	}

	decision := g.engine.Decide(req)
	log.Info("tool call classified",
		"decision", decision.Action, "risk", decision.Risk.String(), "op", decision.Op, "target", decision.Target)
	g.record(audit.Event{
		Type:   audit.TypeDecision,
		CallID: call.ID,
		Tool:   call.Name,
		Op:     string(decision.Op),
		Target: decision.Target,
		Risk:   decision.Risk.String(),
		Action: string(decision.Action),
		Reason: decision.Reason,
	})
	logMetricsErr(g.metrics.RecordDecision(string(decision.Action)))

	switch decision.Action {
	case policy.ActionAllow:
	case policy.ActionAskOperator:
		approved, why := g.awaitOperator(ctx, call, req, decision)
		if !approved {
			return g.denied(call, why)
		}
	default:
		return g.denied(call, decision.Reason)
	}

	return g.execute(ctx, call, decision)
}

func (g *Gatekeeper) denied(call Call, reason string) Result {
	if reason == "" {
		reason = "denied"
	}
	g.record(audit.Event{Type: audit.TypeToolResult, CallID: call.ID, Tool: call.Name, Result: string(StatusDenied), Reason: reason})
	return Result{CallID: call.ID, Status: StatusDenied, Output: "Denied: " + reason}
}

func (g *Gatekeeper) execute(ctx context.Context, call Call, decision policy.Decision) Result {
	if g.executor == nil {
		return Result{CallID: call.ID, Status: StatusError, Output: "Error: no tool executor configured"}
	}
	if decision.Op == policy.OpWrite {
		unlock := g.pathLocks.Lock(decision.Target)
		defer unlock()
	}

	runCtx := tools.WithInvocation(ctx, tools.Invocation{SessionID: g.sessionID, CallID: call.ID})
	var timeout time.Duration
	switch call.Name {
	case "bash_exec":
		timeout = g.execTimeout
	case "search_files":
		timeout = g.searchTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := g.executor.Execute(runCtx, call.Name, call.Arguments)
	elapsed := time.Since(start)

	result := Result{CallID: call.ID, Status: StatusSuccess}
	switch {
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusError
		result.Output = fmt.Sprintf("Error: %s timed out after %s", call.Name, timeout)
		err = context.DeadlineExceeded
	case err != nil:
		result.Status = StatusError
		result.Output = "Error: " + err.Error()
	default:
		result.Output = output
		if code, ok := exitCode(output); ok {
			result.ExitCode = &code
			if code != 0 {
				result.Status = StatusError
			}
		}
	}
	result.Output = truncate(result.Output, g.maxOutput)

	slog.Debug("tool call finished", "call_id", call.ID, "tool", call.Name, "status", result.Status, "duration", elapsed)
	logMetricsErr(g.metrics.RecordToolExecution(elapsed, result.Status == StatusError, err))
	g.record(audit.Event{
		Type:       audit.TypeToolResult,
		CallID:     call.ID,
		Tool:       call.Name,
		Result:     string(result.Status),
		ExitCode:   result.ExitCode,
		DurationMs: elapsed.Milliseconds(),
	})
	return result
}

// awaitOperator parks the call until the operator decides, the response
// window closes or ctx ends. Anything but an explicit approval is a denial.
func (g *Gatekeeper) awaitOperator(ctx context.Context, call Call, req policy.Request, decision policy.Decision) (bool, string) {
	if g.operator == nil {
		g.unattendedDeny.Add(1)
		logMetricsErr(g.metrics.RecordOperator(metrics.OperatorDenied))
		g.recordOperator(call, "denied", nonInteractiveReason)
		return false, nonInteractiveReason
	}

	prompt := Prompt{
		CallID:      call.ID,
		Tool:        call.Name,
		Op:          decision.Op,
		Target:      decision.Target,
		Risk:        decision.Risk,
		Reason:      decision.Reason,
		Description: describe(req),
	}

	var (
		approved bool
		note     string
		err      error
	)
	if g.broker != nil {
		approved, note, err = g.awaitViaBroker(ctx, call, prompt)
	} else {
		approved, note, err = g.awaitDirect(ctx, prompt)
	}

	switch {
	case errors.Is(err, approval.ErrOperatorTimeout), errors.Is(err, context.DeadlineExceeded):
		logMetricsErr(g.metrics.RecordOperator(metrics.OperatorTimeout))
		g.recordOperator(call, "timeout", "operator did not respond in time")
		return false, "operator did not respond in time"
	case err != nil:
		logMetricsErr(g.metrics.RecordOperator(metrics.OperatorDenied))
		g.recordOperator(call, "error", err.Error())
		return false, "operator confirmation failed: " + err.Error()
	case !approved:
		logMetricsErr(g.metrics.RecordOperator(metrics.OperatorDenied))
		if note == "" {
			note = "rejected by operator"
		}
		g.recordOperator(call, "denied", note)
		return false, note
	}
	logMetricsErr(g.metrics.RecordOperator(metrics.OperatorApproved))
	g.recordOperator(call, "approved", note)
	return true, ""
}

func (g *Gatekeeper) awaitViaBroker(ctx context.Context, call Call, prompt Prompt) (bool, string, error) {
	pending, err := g.broker.Open(approval.CreateInput{
		CallID:    call.ID,
		SessionID: g.sessionID,
		ToolName:  call.Name,
		ArgsJSON:  call.Arguments,
		Op:        string(prompt.Op),
		Target:    prompt.Target,
		Risk:      prompt.Risk.String(),
		Reason:    prompt.Reason,
		TTL:       g.operatorTimeout,
	})
	if err != nil {
		return false, "", fmt.Errorf("open approval: %w", err)
	}

	askCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, note, err := g.operator.Confirm(askCtx, prompt)
		if askCtx.Err() != nil {
			return
		}
		input := approval.DecisionInput{DecidedBy: "operator", Note: note}
		if err != nil {
			input.Note = err.Error()
			ok = false
		}
		if ok {
			_, err = g.broker.Approve(pending.ID, input)
		} else {
			_, err = g.broker.Reject(pending.ID, input)
		}
		if err != nil {
			slog.Debug("record operator answer failed", "approval", pending.ID, "error", err)
		}
	}()

	decided, err := g.broker.Await(ctx, pending.ID)
	cancel()
	wg.Wait()
	if err != nil {
		return false, "", err
	}
	return decided.Approved(), decided.DecisionNote, nil
}

func (g *Gatekeeper) awaitDirect(ctx context.Context, prompt Prompt) (bool, string, error) {
	askCtx, cancel := context.WithTimeout(ctx, g.operatorTimeout)
	defer cancel()

	type answer struct {
		ok   bool
		note string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		ok, note, err := g.operator.Confirm(askCtx, prompt)
		ch <- answer{ok, note, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil && askCtx.Err() != nil {
			return false, "", askCtx.Err()
		}
		return a.ok, a.note, a.err
	case <-askCtx.Done():
		<-ch
		return false, "", askCtx.Err()
	}
}

func (g *Gatekeeper) recordOperator(call Call, result, reason string) {
	g.record(audit.Event{Type: audit.TypeOperator, CallID: call.ID, Tool: call.Name, Result: result, Reason: reason})
}

func (g *Gatekeeper) record(ev audit.Event) {
	if g.audit == nil {
		return
	}
	ev.SessionID = g.sessionID
	if err := g.audit.Append(ev); err != nil {
		slog.Warn("audit append failed", "error", err)
	}
}

func allReads(calls []Call) bool {
	for _, call := range calls {
		req, err := RequestFor(call)
		if err != nil || req.Op != policy.OpRead {
			return false
		}
	}
	return true
}

func exitCode(output string) (int, bool) {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "{") {
		return 0, false
	}
	var probe struct {
		ExitCode *int `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil || probe.ExitCode == nil {
		return 0, false
	}
	return *probe.ExitCode, true
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n...[truncated %d bytes]", len(s)-cut)
}

func logMetricsErr(_ metrics.RuntimeSnapshot, err error) {
	if err != nil {
		slog.Warn("persist runtime metrics failed", "error", err)
	}
}
