package commands

import (
	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/config"
)

// Global flag values. They override the matching config keys for one run.
var (
	logLevelOverride  string
	workspaceOverride string
	policyOverride    string
	sandboxOverride   string
)

// NewRootCmd creates the root command. Without a subcommand it starts a chat.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vork [prompt]",
		Short:         "vork - local coding assistant",
		Long:          `vork drives a local llama-server and lets the model read, edit and run code in your workspace under an approval policy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, isInteractiveCmd(cmd))
		},
		RunE: runChat,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")
	flags.StringVarP(&workspaceOverride, "workspace", "w", "", "Workspace root (default: config or current directory)")
	flags.StringVar(&policyOverride, "approval-policy", "", "Approval policy (never|auto|always-ask|read-only)")
	flags.StringVar(&sandboxOverride, "sandbox", "", "Sandbox mode (read-only|workspace-write|danger-full-access)")
	cmd.Flags().Bool("no-tools", false, noToolsUsage)

	cmd.AddCommand(
		NewChatCmd(),
		NewExecCmd(),
		NewServeCmd(),
		NewListCmd(),
		NewStatusCmd(),
		NewSessionsCmd(),
		NewResumeCmd(),
		NewPolicyCmd(),
		NewApprovalCmd(),
		NewConfigCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func isInteractiveCmd(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "vork", "chat", "resume":
		return true
	}
	return false
}

// loadConfig loads the config file, applies flag overrides and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if workspaceOverride != "" {
		cfg.Assistant.Workspace = workspaceOverride
	}
	if policyOverride != "" {
		cfg.Assistant.ApprovalPolicy = policyOverride
	}
	if sandboxOverride != "" {
		cfg.Assistant.SandboxMode = sandboxOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
