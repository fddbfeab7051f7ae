package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/version"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vork version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			line := fmt.Sprintf("vork %s %s/%s", version.Version, runtime.GOOS, runtime.GOARCH)
			if version.Commit != "" {
				line += " (" + version.Commit + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		},
	}
}
