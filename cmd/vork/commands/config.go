package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorkdev/vork/internal/config"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showPath, _ := cmd.Flags().GetBool("path"); showPath {
				fmt.Fprintln(cmd.OutOrStdout(), config.ConfigPath())
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().Bool("path", false, "Print the config file path only")
	return cmd
}
