package cmd

import (
	"github.com/shihaohou/vllm-model-manager/gateway"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().StringVarP(&gatewayAddress, "listen", "L", "", "Listen address, overrides the configuration (e.g. :3000)")
}

var (
	gatewayCmd = &cobra.Command{
		Use:   "gateway",
		Short: "serve the /api gateway in front of the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
	gatewayAddress string
)

func runGateway() error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if gatewayAddress != "" {
		conf.GatewayAddress = gatewayAddress
	}

	ctx, stop := signalContext()
	defer stop()
	return gateway.NewServer(conf.BackendAddress, conf.RequestTimeout()).ListenAndServe(ctx, conf.GatewayAddress)
}
