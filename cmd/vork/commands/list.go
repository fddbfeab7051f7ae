package commands

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/provider"
	"github.com/vorkdev/vork/internal/render"
	"github.com/vorkdev/vork/internal/supervisor"
)

func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the models the configured backend can serve",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cfg.Server.Backend == config.BackendOllama {
		client := &http.Client{Timeout: statusProbeTimeout}
		models, err := provider.ListOllamaModels(cmd.Context(), client, cfg.Server.OllamaURL)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Fprintln(out, "No models installed in Ollama.")
			return nil
		}
		rows := make([][]string, 0, len(models))
		for _, m := range models {
			rows = append(rows, []string{m.Name, humanize.Bytes(uint64(m.Size))})
		}
		fmt.Fprint(out, render.Table([]string{"MODEL", "SIZE"}, []int{40, 10}, rows))
		return nil
	}

	opts := supervisor.OptionsFromConfig(cfg.Server)
	models, err := supervisor.ListModels(opts.ModelsDir)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintf(out, "No models under %s.\n", opts.ModelsDir)
		return nil
	}
	// The model a launch would pick right now.
	selected, _ := supervisor.ResolveModel(opts.ModelPath, opts.ModelsDir, opts.ModelName)
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		mark := ""
		if m.Path == selected {
			mark = "*"
		}
		rel, err := filepath.Rel(opts.ModelsDir, m.Path)
		if err != nil {
			rel = m.Path
		}
		rows = append(rows, []string{mark, m.Alias, humanize.Bytes(uint64(m.Size)), rel})
	}
	fmt.Fprint(out, render.Table([]string{"", "ALIAS", "SIZE", "PATH"}, []int{1, 32, 10, 48}, rows))
	return nil
}
