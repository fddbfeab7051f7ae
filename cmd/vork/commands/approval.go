package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/approval"
	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/render"
)

func NewApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Inspect the operator confirmation ledger",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded confirmations",
		Args:  cobra.NoArgs,
		RunE:  runApprovalList,
	}
	list.Flags().String("status", "", "Filter by status (pending|approved|rejected|expired)")
	list.Flags().String("tool", "", "Filter by tool name")
	list.Flags().Int("limit", 20, "Show only the newest N records (0 for all)")
	cmd.AddCommand(list)
	return cmd
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	tool, _ := cmd.Flags().GetString("tool")
	limit, _ := cmd.Flags().GetInt("limit")

	switch approval.RequestStatus(status) {
	case "", approval.StatusPending, approval.StatusApproved, approval.StatusRejected, approval.StatusExpired:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	broker := approval.NewBroker(config.StateDir(), 0)
	reqs, err := broker.List(approval.Query{
		Status:   approval.RequestStatus(status),
		ToolName: tool,
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No approval records.")
		return nil
	}
	rows := make([][]string, 0, len(reqs))
	for _, r := range reqs {
		by := r.DecidedBy
		if by == "" {
			by = "-"
		}
		rows = append(rows, []string{
			r.ID,
			r.RequestedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.Status),
			by,
			r.ToolName,
			r.Target,
		})
	}
	fmt.Fprint(out, render.Table(
		[]string{"ID", "REQUESTED", "STATUS", "BY", "TOOL", "TARGET"},
		[]int{10, 19, 8, 10, 12, 48},
		rows,
	))
	return nil
}
