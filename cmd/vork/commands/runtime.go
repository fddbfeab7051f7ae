package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/vorkdev/vork/internal/agent"
	"github.com/vorkdev/vork/internal/approval"
	"github.com/vorkdev/vork/internal/audit"
	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/console"
	"github.com/vorkdev/vork/internal/gatekeeper"
	"github.com/vorkdev/vork/internal/metrics"
	"github.com/vorkdev/vork/internal/policy"
	"github.com/vorkdev/vork/internal/provider"
	"github.com/vorkdev/vork/internal/render"
	"github.com/vorkdev/vork/internal/session"
	"github.com/vorkdev/vork/internal/supervisor"
	"github.com/vorkdev/vork/internal/tools"
)

// runtimeOptions select how a conversation is bootstrapped.
type runtimeOptions struct {
	// console is the operator; nil runs unattended.
	console *console.Console
	out     io.Writer
	// resume continues an existing session instead of creating one.
	resume *session.Info
	// noTools leaves the model without tools; every turn is a plain answer.
	noTools bool
}

// assistantRuntime is everything one conversation needs. The backend is
// healthy before it is returned, so no tool call can run earlier.
type assistantRuntime struct {
	cfg        *config.Config
	workspace  string
	engine     policy.Engine
	supervisor *supervisor.Supervisor
	store      session.Store
	gate       *gatekeeper.Gatekeeper
	loop       *agent.Loop
	renderer   render.Renderer
	out        io.Writer
}

// buildEngine assembles the approval engine for a workspace.
func buildEngine(cfg *config.Config, workspace string) (policy.Engine, error) {
	rules := policy.DefaultRules()
	if path := strings.TrimSpace(cfg.Policy.RulesFile); path != "" {
		path, err := config.ExpandHome(path)
		if err != nil {
			return policy.Engine{}, &config.Error{Field: "policy.rules_file", Msg: "cannot be expanded", Err: err}
		}
		loaded, err := policy.LoadRules(path)
		if err != nil {
			return policy.Engine{}, &config.Error{Field: "policy.rules_file", Msg: "is invalid", Err: err}
		}
		rules = loaded
	}
	boundary, err := policy.NewBoundary(workspace)
	if err != nil {
		return policy.Engine{}, &config.Error{Field: "assistant.workspace", Msg: "cannot be canonicalized", Err: err}
	}
	return policy.NewEngine(policy.EngineConfig{
		Policy:     cfg.ApprovalPolicy(),
		Mode:       cfg.SandboxMode(),
		Boundary:   boundary,
		Classifier: policy.NewClassifier(rules, cfg.Policy.SensitivePaths),
	}), nil
}

// startBackend brings the inference backend up and returns where to reach it.
func startBackend(ctx context.Context, cfg *config.Config, m *metrics.RuntimeMetrics, w *audit.Writer) (provider.Target, *supervisor.Supervisor, error) {
	if cfg.Server.Backend == config.BackendOllama {
		return provider.Target{BaseURL: cfg.Server.OllamaURL, Model: cfg.Server.Model}, nil, nil
	}
	sup := supervisor.New(supervisor.OptionsFromConfig(cfg.Server), supervisor.NewProcessTable(), supervisor.ExecLauncher{}).
		WithMetrics(m).
		WithAudit(w)
	if err := sup.Start(ctx); err != nil {
		return provider.Target{}, nil, err
	}
	return provider.Target{BaseURL: sup.BaseURL(), Model: sup.Model().Alias}, sup, nil
}

func newAssistantRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (_ *assistantRuntime, err error) {
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, err
	}
	engine, err := buildEngine(cfg, workspace)
	if err != nil {
		return nil, err
	}

	stateDir := config.StateDir()
	runtimeMetrics := metrics.NewRuntimeMetrics(stateDir)
	auditWriter := audit.NewWriter(stateDir)
	operatorTimeout := time.Duration(cfg.Assistant.OperatorTimeout) * time.Second
	broker := approval.NewBroker(stateDir, operatorTimeout)
	if expired, err := broker.ExpirePending(); err != nil {
		slog.Warn("expire stale approvals failed", "error", err)
	} else if len(expired) > 0 {
		slog.Info("expired approvals from a previous run", "count", len(expired))
	}

	store, err := session.Open(cfg.Session.Backend, config.SessionsDir())
	if err != nil {
		return nil, err
	}
	rt := &assistantRuntime{cfg: cfg, workspace: workspace, engine: engine, store: store, out: opts.out}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	target, sup, err := startBackend(ctx, cfg, runtimeMetrics, auditWriter)
	if err != nil {
		return nil, err
	}
	rt.supervisor = sup

	chatModel, err := provider.NewChatModel(ctx, cfg, target)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, tools.Options{
		Root:           workspace,
		ExecTimeout:    cfg.Tools.ExecTimeout,
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	var (
		info    session.Info
		history []session.Message
	)
	if opts.resume != nil {
		info, history, err = store.Load(ctx, opts.resume.ID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", opts.resume.ID, err)
		}
		if info.WorkDir != workspace {
			slog.Warn("resuming a session from another workspace", "session", info.ID, "session_workspace", info.WorkDir, "workspace", workspace)
		}
	} else {
		info, err = store.Create(ctx, workspace, target.Model)
		if err != nil {
			return nil, err
		}
	}

	gateCfg := gatekeeper.Config{
		Engine:          engine,
		Executor:        registry,
		Broker:          broker,
		Audit:           auditWriter,
		Metrics:         runtimeMetrics,
		SessionID:       info.ID,
		ExecTimeout:     time.Duration(cfg.Tools.ExecTimeout) * time.Second,
		SearchTimeout:   time.Duration(cfg.Tools.SearchTimeout) * time.Second,
		OperatorTimeout: operatorTimeout,
		MaxOutputBytes:  cfg.Tools.MaxOutputBytes,
	}
	if opts.console != nil {
		gateCfg.Operator = opts.console
	}
	rt.gate = gatekeeper.New(gateCfg)

	offered, names := toolSurface(registry, opts.noTools)
	rt.loop, err = agent.NewLoop(ctx, agent.LoopConfig{
		Model:         chatModel,
		Tools:         offered,
		Gate:          rt.gate,
		Context:       agent.NewContextBuilder(workspace, engine.Policy(), engine.Mode(), names),
		Store:         store,
		Session:       info,
		History:       history,
		MaxIterations: cfg.Assistant.MaxToolIterations,
		ContextLimit:  cfg.Assistant.ContextLimit,
	})
	if err != nil {
		return nil, err
	}

	rt.renderer = render.Plain{}
	if f, ok := opts.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if md, err := render.NewMarkdown(0); err == nil {
			rt.renderer = md
		}
	}
	if opts.console != nil && opts.out != nil {
		rt.loop.OnToolStart = func(call gatekeeper.Call) {
			fmt.Fprintln(opts.out, render.ToolStart(call))
		}
		rt.loop.OnToolFinish = func(call gatekeeper.Call, res gatekeeper.Result) {
			fmt.Fprintln(opts.out, render.ToolResult(call, res))
		}
	}

	slog.Info("assistant ready",
		"session", info.ID,
		"workspace", workspace,
		"policy", engine.Policy(),
		"sandbox", engine.Mode(),
		"model", target.Model,
	)
	return rt, nil
}

// toolSurface is what the model is told it can call.
func toolSurface(registry *tools.Registry, noTools bool) (*tools.Registry, []string) {
	if noTools {
		return nil, nil
	}
	return registry, registry.Names()
}

// Close releases the session store and, unless server.keep_running is set,
// stops the inference server this run launched.
func (rt *assistantRuntime) Close() {
	if rt == nil {
		return
	}
	if rt.supervisor != nil && !rt.cfg.Server.KeepRunning {
		if err := rt.supervisor.Stop(); err != nil {
			slog.Warn("stop inference server failed", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Warn("close session store failed", "error", err)
		}
	}
}
