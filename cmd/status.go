package cmd

import (
	"context"
	"os"

	"github.com/shihaohou/vllm-model-manager/render"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "print one snapshot of GPUs, host and services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusDashboard()
		},
	}
)

func statusDashboard() error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	coordinator, cleanup := newCoordinator(conf)
	defer cleanup()

	coordinator.Refresh(context.Background())
	view := coordinator.View()
	render.Dashboard(os.Stdout, view)
	return view.Connectivity
}
