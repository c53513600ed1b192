package agent_cli

import (
	"github.com/spf13/cobra"

	agent_config "github.com/homemicai/agent/config"
	"github.com/homemicai/pkg/commons"
)

// Dependencies is everything the commands need, built once in main.
type Dependencies struct {
	Config *agent_config.AgentConfig
	Logger commons.Logger
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "node-agent",
		Short: "Always-on microphone node",
		Long:  "Captures fixed-length audio clips from the local microphone and ships them to the HomeMic server for offline transcription.",
	}

	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))

	return rootCmd
}
