package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/gatekeeper"
	"github.com/vorkdev/vork/internal/render"
)

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the approval policy",
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "Explain the decision for a hypothetical tool call",
		Example: `  vork policy check --tool bash_exec --command "rm -rf build"
  vork policy check --tool write_file --path ../outside.txt`,
		Args: cobra.NoArgs,
		RunE: runPolicyCheck,
	}
	check.Flags().String("tool", "", "Tool name (read_file, write_file, edit_file, list_files, search_files, bash_exec)")
	check.Flags().String("command", "", "Command for bash_exec")
	check.Flags().String("path", "", "Path for file tools")
	_ = check.MarkFlagRequired("tool")
	cmd.AddCommand(check)
	return cmd
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("tool")
	command, _ := cmd.Flags().GetString("command")
	path, _ := cmd.Flags().GetString("path")

	if !gatekeeper.KnownTool(name) {
		return fmt.Errorf("unknown tool %q", name)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, workspace)
	if err != nil {
		return err
	}

	argMap := map[string]string{}
	if command != "" {
		argMap["command"] = command
	}
	if path != "" {
		argMap["path"] = path
	}
	if name == "search_files" {
		argMap["pattern"] = "."
	}
	if name == "edit_file" {
		argMap["old_text"], argMap["new_text"] = "a", "b"
	}
	if name == "write_file" {
		argMap["content"] = ""
	}
	raw, err := json.Marshal(argMap)
	if err != nil {
		return err
	}
	req, err := gatekeeper.RequestFor(gatekeeper.Call{ID: "check", Name: name, Arguments: string(raw)})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, render.Field("policy", fmt.Sprintf("%s · sandbox %s · workspace %s", engine.Policy(), engine.Mode(), workspace)))
	fmt.Fprintln(out, render.Decision(engine.Decide(req)))
	return nil
}
