package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Version is set at build time with -ldflags "-X github.com/shihaohou/vllm-model-manager/cmd.Version=..."
var Version = "None"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the model manager",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}
