package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/metrics"
	"github.com/vorkdev/vork/internal/render"
	"github.com/vorkdev/vork/internal/session"
	"github.com/vorkdev/vork/internal/supervisor"
)

const statusProbeTimeout = 2 * time.Second

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, backend health and server processes",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, render.Header("vork status"))
	fmt.Fprintln(out, render.Field("config", config.ConfigPath()))
	fmt.Fprintln(out, render.Field("workspace", workspace))
	fmt.Fprintln(out, render.Field("approval policy", cfg.ApprovalPolicy()))
	fmt.Fprintln(out, render.Field("sandbox", cfg.SandboxMode()))
	fmt.Fprintln(out, render.Field("backend", cfg.Server.Backend))

	printBackendStatus(cmd.Context(), out, cfg)
	printSessionStatus(cmd.Context(), out, cfg)
	printMetricsStatus(out)
	return nil
}

func printBackendStatus(ctx context.Context, out io.Writer, cfg *config.Config) {
	client := &http.Client{Timeout: statusProbeTimeout}
	if cfg.Server.Backend == config.BackendOllama {
		err := supervisor.Probe(ctx, client, cfg.Server.OllamaURL+"/api/version")
		fmt.Fprintln(out, render.Field("ollama", healthText(err)))
		return
	}

	opts := supervisor.OptionsFromConfig(cfg.Server)
	if model, err := supervisor.ResolveModel(opts.ModelPath, opts.ModelsDir, opts.ModelName); err != nil {
		fmt.Fprintln(out, render.Field("model", render.Status(false, err.Error())))
	} else {
		fmt.Fprintln(out, render.Field("model", model))
	}

	url := supervisor.New(opts, nil, nil).BaseURL()
	err := supervisor.Probe(ctx, client, url+"/health")
	fmt.Fprintln(out, render.Field("server "+url, healthText(err)))

	procs := supervisor.NewProcessTable()
	name := filepath.Base(opts.BinaryPath)
	if pids, err := procs.FindByName(name); err == nil {
		fmt.Fprintln(out, render.Field(name+" processes", pidText(pids)))
	}
	if pids, err := procs.FindByPort(opts.Port); err == nil {
		fmt.Fprintln(out, render.Field(fmt.Sprintf("port %d listeners", opts.Port), pidText(pids)))
	}
}

func printSessionStatus(ctx context.Context, out io.Writer, cfg *config.Config) {
	store, err := session.Open(cfg.Session.Backend, config.SessionsDir())
	if err != nil {
		fmt.Fprintln(out, render.Field("sessions", render.Status(false, err.Error())))
		return
	}
	defer store.Close()
	infos, err := store.List(ctx, 0)
	if err != nil {
		fmt.Fprintln(out, render.Field("sessions", render.Status(false, err.Error())))
		return
	}
	fmt.Fprintln(out, render.Field("sessions", fmt.Sprintf("%d (%s)", len(infos), cfg.Session.Backend)))
}

func printMetricsStatus(out io.Writer) {
	snap, err := metrics.ReadRuntimeSnapshot(config.StateDir())
	if err != nil || !snap.HasData() {
		return
	}
	d := snap.Decisions
	fmt.Fprintln(out, render.Field("tool calls", fmt.Sprintf("%d (errors %.0f%%, timeouts %.0f%%, p95~%dms)",
		snap.Tool.Total, snap.Tool.ErrorRatio()*100, snap.Tool.TimeoutRatio()*100, snap.Tool.P95ProxyLatencyMs)))
	fmt.Fprintln(out, render.Field("decisions", fmt.Sprintf("allow %d · ask %d · deny %d", d.Allowed, d.Asked, d.Denied)))
	if snap.Supervisor.Launches > 0 {
		fmt.Fprintln(out, render.Field("server launches", fmt.Sprintf("%d (failures %d, last startup %dms)",
			snap.Supervisor.Launches, snap.Supervisor.Failures, snap.Supervisor.LastStartupMs)))
	}
}

func healthText(err error) string {
	if err != nil {
		return render.Status(false, "unreachable: "+err.Error())
	}
	return render.Status(true, "healthy")
}

func pidText(pids []int) string {
	if len(pids) == 0 {
		return "none"
	}
	return fmt.Sprint(pids)
}
