package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/console"
	"github.com/vorkdev/vork/internal/provider"
	"github.com/vorkdev/vork/internal/render"
	"github.com/vorkdev/vork/internal/session"
)

const noToolsUsage = "Answer from the model alone; no tools are offered"

func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chat [prompt]",
		Aliases: []string{"ask"},
		Short:   "Chat with the assistant; tool calls that need approval are confirmed here",
		RunE:    runChat,
	}
	cmd.Flags().Bool("no-tools", false, noToolsUsage)
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	return chat(cmd, args, nil)
}

func chat(cmd *cobra.Command, args []string, resume *session.Info) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if resume != nil && workspaceOverride == "" && resume.WorkDir != "" {
		cfg.Assistant.Workspace = resume.WorkDir
	}
	noTools, _ := cmd.Flags().GetBool("no-tools")
	out := cmd.OutOrStdout()
	con := console.New(cmd.InOrStdin(), out)

	fmt.Fprintln(out, render.Muted("Starting inference backend..."))
	rt, err := newAssistantRuntime(ctx, cfg, runtimeOptions{console: con, out: out, resume: resume, noTools: noTools})
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) > 0 {
		return rt.turn(ctx, strings.Join(args, " "))
	}

	fmt.Fprintf(out, "%s  %s\n", render.Header("vork"), render.Muted(fmt.Sprintf("session %s · %s · %s · type 'exit' to quit", shortID(rt.loop.SessionID()), rt.engine.Policy(), rt.engine.Mode())))
	for {
		input, err := con.ReadLine(ctx, "\n> ")
		if errors.Is(err, console.ErrClosed) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := rt.turn(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out)
				return nil
			}
			if errors.Is(err, provider.ErrBackendUnavailable) {
				return err
			}
			fmt.Fprintln(out, render.Status(false, "Error: "+err.Error()))
		}
	}
}

// turn runs one prompt and prints the reply.
func (rt *assistantRuntime) turn(ctx context.Context, input string) error {
	reply, err := rt.loop.Process(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintln(rt.out, render.Response(reply, rt.renderer, false))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
