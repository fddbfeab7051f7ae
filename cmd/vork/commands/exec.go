package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/policy"
	"github.com/vorkdev/vork/internal/render"
)

type execResult struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func NewExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <task>",
		Short: "Run one task without an operator; calls that need approval are denied",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}
	cmd.Flags().Bool("full-auto", false, "Allow everything not always-blocked (danger-full-access sandbox, never ask)")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().Bool("no-tools", false, noToolsUsage)
	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fullAuto, _ := cmd.Flags().GetBool("full-auto")
	asJSON, _ := cmd.Flags().GetBool("json")
	noTools, _ := cmd.Flags().GetBool("no-tools")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	switch {
	case fullAuto:
		cfg.Assistant.SandboxMode = string(policy.SandboxDangerFullAccess)
		cfg.Assistant.ApprovalPolicy = string(policy.PolicyNever)
	case sandboxOverride == "":
		cfg.Assistant.SandboxMode = string(policy.SandboxReadOnly)
	}

	out := cmd.OutOrStdout()
	rt, err := newAssistantRuntime(ctx, cfg, runtimeOptions{out: out, noTools: noTools})
	if err != nil {
		return err
	}
	defer rt.Close()

	reply, err := rt.loop.Process(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	_, reply, _ = render.SplitThink(reply)

	if asJSON {
		enc := json.NewEncoder(out)
		if err := enc.Encode(execResult{SessionID: rt.loop.SessionID(), Message: reply}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, reply)
	}

	if n := rt.gate.UnattendedDenials(); n > 0 {
		return fmt.Errorf("%w (%d calls)", errApprovalDenied, n)
	}
	return nil
}
