package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/render"
	"github.com/vorkdev/vork/internal/session"
)

func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	}
	list.Flags().Int("limit", 20, "Maximum sessions to show (0 for all)")
	list.Flags().Bool("all", false, "Include sessions without messages")
	cmd.AddCommand(list)
	return cmd
}

func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Continue a stored session (default: the latest in this workspace)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runResume,
	}
	cmd.Flags().Bool("last", false, "Resume the most recent session in any workspace")
	return cmd
}

func openSessionStore() (session.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.Open(cfg.Session.Backend, config.SessionsDir())
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")

	store, _, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.List(cmd.Context(), 0)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, info := range infos {
		if info.Messages == 0 && !all {
			continue
		}
		rows = append(rows, []string{
			shortID(info.ID),
			info.UpdatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(info.Messages),
			info.WorkDir,
			info.Title,
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	fmt.Fprint(out, render.Table(
		[]string{"ID", "UPDATED", "MSGS", "WORKSPACE", "TITLE"},
		[]int{8, 16, 5, 30, 40},
		rows,
	))
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	last, _ := cmd.Flags().GetBool("last")

	store, cfg, err := openSessionStore()
	if err != nil {
		return err
	}
	var info session.Info
	switch {
	case len(args) == 1:
		info, err = session.Find(cmd.Context(), store, args[0])
	case last:
		info, err = session.Last(cmd.Context(), store, "")
	default:
		workspace, wsErr := cfg.WorkspacePath()
		if wsErr != nil {
			_ = store.Close()
			return wsErr
		}
		info, err = session.Last(cmd.Context(), store, workspace)
	}
	_ = store.Close()
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no session to resume: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.Muted(fmt.Sprintf("Resuming %s (%d messages)", shortID(info.ID), info.Messages)))
	return chat(cmd, nil, &info)
}
