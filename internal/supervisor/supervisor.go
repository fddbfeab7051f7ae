package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/vorkdev/vork/internal/audit"
	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/metrics"
)

const (
	defaultHealthTimeout  = 30 * time.Second
	defaultHealthInterval = time.Second
	defaultProbeTimeout   = 2 * time.Second
	defaultKillGrace      = 500 * time.Millisecond
	portFreeChecks        = 5
	healthPath            = "/health"
)

// Options fix the server the supervisor manages.
type Options struct {
	BinaryPath string
	ModelPath  string
	ModelsDir  string
	ModelName  string

	Host        string
	Port        int
	ContextSize int
	GPULayers   int
	Threads     int
	BatchSize   int
	ExtraArgs   []string

	HealthTimeout  time.Duration
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	KillGrace      time.Duration

	// OnState observes every transition.
	OnState func(State)
}

// OptionsFromConfig maps server settings onto supervisor options.
func OptionsFromConfig(cfg config.ServerConfig) Options {
	binary, _ := config.ExpandHome(cfg.BinaryPath)
	modelPath, _ := config.ExpandHome(cfg.ModelPath)
	modelsDir, _ := config.ExpandHome(cfg.ModelsDir)
	return Options{
		BinaryPath:     binary,
		ModelPath:      modelPath,
		ModelsDir:      modelsDir,
		ModelName:      cfg.Model,
		Host:           cfg.Host,
		Port:           cfg.Port,
		ContextSize:    cfg.ContextSize,
		GPULayers:      cfg.GPULayers,
		Threads:        cfg.Threads,
		BatchSize:      cfg.BatchSize,
		ExtraArgs:      append([]string(nil), cfg.ExtraArgs...),
		HealthTimeout:  time.Duration(cfg.HealthTimeout) * time.Second,
		HealthInterval: time.Duration(cfg.HealthInterval) * time.Second,
		KillGrace:      time.Duration(cfg.KillGraceMs) * time.Millisecond,
	}
}

// Supervisor brings up exactly one healthy inference server on the
// configured port. Start is a one-time barrier per run.
type Supervisor struct {
	opts     Options
	procs    ProcessTable
	launcher Launcher
	client   *http.Client
	metrics  *metrics.RuntimeMetrics
	audit    *audit.Writer
	sleep    func(context.Context, time.Duration) error
	selfPid  int

	mu     sync.Mutex
	state  State
	model  ModelHandle
	handle Handle
}

// New creates a supervisor. Zero durations take defaults.
func New(opts Options, procs ProcessTable, launcher Launcher) *Supervisor {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = defaultHealthTimeout
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.KillGrace < 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	return &Supervisor{
		opts:     opts,
		procs:    procs,
		launcher: launcher,
		client:   &http.Client{Timeout: opts.ProbeTimeout},
		sleep:    sleepCtx,
		selfPid:  os.Getpid(),
		state:    StateAbsent,
	}
}

// WithMetrics records launch outcomes.
func (s *Supervisor) WithMetrics(m *metrics.RuntimeMetrics) *Supervisor {
	s.metrics = m
	return s
}

// WithAudit records lifecycle events.
func (s *Supervisor) WithAudit(w *audit.Writer) *Supervisor {
	s.audit = w
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Model returns the resolved model. Valid after Start succeeds.
func (s *Supervisor) Model() ModelHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// BaseURL is the server root, e.g. http://127.0.0.1:8080.
func (s *Supervisor) BaseURL() string {
	return "http://" + net.JoinHostPort(probeHost(s.opts.Host), strconv.Itoa(s.opts.Port))
}

// Exited is closed when the launched server exits. Nil before launch.
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	return s.handle.Exited()
}

// Output returns captured server output.
func (s *Supervisor) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.Output()
}

// Start runs discovery, termination of stale servers, launch and health
// polling. It returns nil only once the server is healthy.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	began := time.Now()
	defer func() {
		// Health probes only run during Start.
		s.client.CloseIdleConnections()
		kind := ""
		var se *Error
		if errors.As(err, &se) {
			kind = string(se.Kind)
		} else if err != nil {
			kind = "cancelled"
		}
		if _, merr := s.metrics.RecordLaunch(time.Since(began), kind); merr != nil {
			slog.Warn("persist runtime metrics failed", "error", merr)
		}
		if err != nil {
			s.setState(StateFailed)
			s.record("failed", err.Error())
		}
	}()

	if s.State() != StateAbsent {
		return fmt.Errorf("supervisor already started (state %s)", s.State())
	}

	s.setState(StateDiscovering)
	modelPath, err := ResolveModel(s.opts.ModelPath, s.opts.ModelsDir, s.opts.ModelName)
	if err != nil {
		return err
	}
	model := ModelHandle{
		Path:        modelPath,
		Alias:       ModelAlias(modelPath),
		ContextSize: s.opts.ContextSize,
		GPULayers:   s.opts.GPULayers,
		Threads:     s.opts.Threads,
		BatchSize:   s.opts.BatchSize,
		ExtraArgs:   s.opts.ExtraArgs,
	}
	stale := s.discover()

	s.setState(StateTerminating)
	if err := s.terminate(ctx, stale); err != nil {
		return err
	}

	s.setState(StateLaunching)
	args := model.Args(s.opts.Host, s.opts.Port)
	slog.Info("launching inference server", "binary", s.opts.BinaryPath, "model", model.Path, "port", s.opts.Port)
	handle, err := s.launcher.Launch(ctx, s.opts.BinaryPath, args)
	if err != nil {
		return &Error{Kind: KindLaunchFailed, Msg: "spawn " + s.opts.BinaryPath, Err: err}
	}
	s.mu.Lock()
	s.model = model
	s.handle = handle
	s.mu.Unlock()
	s.record("launched", fmt.Sprintf("pid %d model %s", handle.Pid(), model.Path))

	s.setState(StatePollingHealth)
	if err := s.pollHealth(ctx, handle); err != nil {
		if killErr := handle.Kill(); killErr != nil {
			slog.Warn("kill unhealthy server failed", "pid", handle.Pid(), "error", killErr)
		}
		return err
	}

	s.setState(StateHealthy)
	s.record("healthy", s.BaseURL())
	slog.Info("inference server healthy", "pid", handle.Pid(), "url", s.BaseURL(), "startup", time.Since(began))
	return nil
}

// Stop kills the launched server, if any.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return nil
	}
	select {
	case <-handle.Exited():
		return nil
	default:
	}
	slog.Info("stopping inference server", "pid", handle.Pid())
	if err := handle.Kill(); err != nil {
		return fmt.Errorf("stop server pid %d: %w", handle.Pid(), err)
	}
	s.record("stopped", strconv.Itoa(handle.Pid()))
	return nil
}

// discover returns stale pids by binary name and by port, deduplicated and
// without our own pid. Discovery failures are logged; the port check after
// termination is authoritative.
func (s *Supervisor) discover() []int {
	var pids []int
	name := filepath.Base(s.opts.BinaryPath)
	if byName, err := s.procs.FindByName(name); err != nil {
		slog.Warn("process discovery by name failed", "name", name, "error", err)
	} else {
		pids = append(pids, byName...)
	}
	if byPort, err := s.procs.FindByPort(s.opts.Port); err != nil {
		slog.Warn("process discovery by port failed", "port", s.opts.Port, "error", err)
	} else {
		pids = append(pids, byPort...)
	}
	slices.Sort(pids)
	pids = slices.Compact(pids)
	return slices.DeleteFunc(pids, func(pid int) bool { return pid <= 0 || pid == s.selfPid })
}

func (s *Supervisor) terminate(ctx context.Context, pids []int) error {
	for _, pid := range pids {
		slog.Info("terminating stale server process", "pid", pid)
		if err := s.procs.Kill(pid); err != nil {
			slog.Warn("kill failed", "pid", pid, "error", err)
		}
	}
	if len(pids) > 0 {
		s.record("terminated", fmt.Sprint(pids))
	}

	for attempt := 0; ; attempt++ {
		if len(pids) > 0 || attempt > 0 {
			if err := s.sleep(ctx, s.opts.KillGrace); err != nil {
				return err
			}
		}
		holders, err := s.procs.FindByPort(s.opts.Port)
		if errors.Is(err, errors.ErrUnsupported) {
			return nil
		}
		if err != nil {
			return &Error{Kind: KindLaunchFailed, Msg: fmt.Sprintf("check port %d", s.opts.Port), Err: err}
		}
		holders = slices.DeleteFunc(holders, func(pid int) bool { return pid == s.selfPid })
		if len(holders) == 0 {
			return nil
		}
		if attempt+1 >= portFreeChecks {
			return &Error{Kind: KindLaunchFailed, Msg: fmt.Sprintf("port %d still in use by pids %v", s.opts.Port, holders)}
		}
		for _, pid := range holders {
			_ = s.procs.Kill(pid)
		}
	}
}

func (s *Supervisor) pollHealth(ctx context.Context, handle Handle) error {
	deadline := time.NewTimer(s.opts.HealthTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	url := s.BaseURL() + healthPath
	for {
		err := Probe(ctx, s.client, url)
		if err == nil {
			return nil
		}
		slog.Debug("health probe failed", "url", url, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-handle.Exited():
			return &Error{
				Kind:   KindLaunchFailed,
				Msg:    fmt.Sprintf("server pid %d exited during startup", handle.Pid()),
				Output: handle.Output(),
				Err:    handle.ExitErr(),
			}
		case <-deadline.C:
			return &Error{
				Kind:   KindHealthTimeout,
				Msg:    fmt.Sprintf("%s not healthy after %s", url, s.opts.HealthTimeout),
				Output: handle.Output(),
			}
		case <-ticker.C:
		}
	}
}

// Probe performs one health check. Any 2xx is healthy.
func Probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	slog.Debug("supervisor state", "state", state, "port", s.opts.Port)
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}

func (s *Supervisor) record(result, reason string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(audit.Event{Type: audit.TypeSupervisor, Result: result, Reason: reason}); err != nil {
		slog.Warn("audit append failed", "error", err)
	}
}

// probeHost maps wildcard bind addresses to loopback for client requests.
func probeHost(host string) string {
	switch host {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::", "[::]":
		return "::1"
	}
	return host
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
