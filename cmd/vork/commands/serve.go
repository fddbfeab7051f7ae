package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/audit"
	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/metrics"
	"github.com/vorkdev/vork/internal/render"
	"github.com/vorkdev/vork/internal/supervisor"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inference server and keep it in the foreground",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("model", "", "GGUF file to serve, or a name matched under server.models_dir")
	cmd.Flags().Int("port", 0, "Port to listen on (default: server.port)")
	return cmd
}

// applyServeFlags points the server config at the model and port given on
// the command line. An existing file wins over a name lookup.
func applyServeFlags(cfg *config.Config, model string, port int) error {
	if model = strings.TrimSpace(model); model != "" {
		path, err := config.ExpandHome(model)
		if err != nil {
			return &config.Error{Field: "--model", Msg: "cannot be expanded", Err: err}
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			cfg.Server.ModelPath = path
			cfg.Server.Model = ""
		} else {
			cfg.Server.ModelPath = ""
			cfg.Server.Model = model
		}
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	model, _ := cmd.Flags().GetString("model")
	port, _ := cmd.Flags().GetInt("port")
	if err := applyServeFlags(cfg, model, port); err != nil {
		return err
	}
	if cfg.Server.Backend != config.BackendLlamaCpp {
		return &config.Error{Field: "server.backend", Msg: fmt.Sprintf("serve needs %q, got %q", config.BackendLlamaCpp, cfg.Server.Backend)}
	}

	out := cmd.OutOrStdout()
	opts := supervisor.OptionsFromConfig(cfg.Server)
	opts.OnState = func(s supervisor.State) {
		fmt.Fprintln(out, render.Muted("server: "+string(s)))
	}
	stateDir := config.StateDir()
	sup := supervisor.New(opts, supervisor.NewProcessTable(), supervisor.ExecLauncher{}).
		WithMetrics(metrics.NewRuntimeMetrics(stateDir)).
		WithAudit(audit.NewWriter(stateDir))
	if err := sup.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintln(out, render.Field("model", sup.Model().Path))
	fmt.Fprintln(out, render.Field("url", sup.BaseURL()+"/v1"))
	fmt.Fprintln(out, render.Muted("Press Ctrl+C to stop."))

	select {
	case <-ctx.Done():
		return sup.Stop()
	case <-sup.Exited():
		return &supervisor.Error{Kind: supervisor.KindLaunchFailed, Msg: "server exited", Output: sup.Output()}
	}
}
