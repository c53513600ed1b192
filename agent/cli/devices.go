package agent_cli

import (
	"fmt"

	"github.com/spf13/cobra"

	internal_source "github.com/homemicai/agent/internal/source"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := internal_source.ListDevices()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), listing)
			return nil
		},
	}
}
