package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/shihaohou/vllm-model-manager/dashboard"
	"github.com/shihaohou/vllm-model-manager/launch"
	"github.com/shihaohou/vllm-model-manager/lifecycle"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/render"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	addLaunchFlags(startCmd)
	startCmd.Flags().BoolVar(&startSaveDefault, "save-default", false, "Store these parameters as the service defaults")
}

// addLaunchFlags registers the launch parameter overrides read by applyStartFlags.
func addLaunchFlags(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&startGPUs, "gpus", nil, "GPU indices to run on, e.g. --gpus 0,1")
	cmd.Flags().IntVarP(&startPort, "port", "p", 0, "Port the service listens on")
	cmd.Flags().IntVar(&startTensorParallel, "tp", 0, "Tensor parallel size")
	cmd.Flags().Float64Var(&startGPUUtil, "gpu-util", 0, "GPU memory utilization, between 0 and 1")
	cmd.Flags().IntVar(&startMaxModelLen, "max-len", 0, "Maximum model length")
	cmd.Flags().StringVar(&startDtype, "dtype", "", "Data type: auto, float16 or bfloat16")
}

var (
	startCmd = &cobra.Command{
		Use:   "start [service]",
		Short: "start a service, parameters default to the stored ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return startService(cmd, model.ServiceKey(args[0]))
		},
	}
	stopCmd = &cobra.Command{
		Use:   "stop [service]",
		Short: "stop a running service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopService(model.ServiceKey(args[0]))
		},
	}
	logsCmd = &cobra.Command{
		Use:   "logs [service]",
		Short: "print the last log lines of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serviceLogs(model.ServiceKey(args[0]))
		},
	}
	startGPUs           []int
	startPort           int
	startTensorParallel int
	startGPUUtil        float64
	startMaxModelLen    int
	startDtype          string
	startSaveDefault    bool
)

func refreshedCoordinator() (*dashboard.Coordinator, func(), error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	coordinator, cleanup := newCoordinator(conf)
	coordinator.Refresh(context.Background())
	if err := coordinator.ConnectivityError(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return coordinator, cleanup, nil
}

func startService(cmd *cobra.Command, key model.ServiceKey) error {
	coordinator, cleanup, err := refreshedCoordinator()
	if err != nil {
		return err
	}
	defer cleanup()

	service, ok := coordinator.Service(key)
	if !ok {
		return errors.Wrapf(dashboard.ErrUnknownService, "%s", key)
	}
	if !coordinator.Lifecycle().CanStart(key, service) {
		return fmt.Errorf("service %s is %s", key, service.Status)
	}
	launchConfig, err := coordinator.PrepareStart(key)
	if err != nil {
		return err
	}
	launchConfig, err = applyStartFlags(cmd, launchConfig)
	if err != nil {
		return err
	}
	render.LaunchConfig(os.Stdout, launchConfig)

	outcome, err := coordinator.StartService(context.Background(), key, launchConfig)
	return reportOutcome(outcome, err)
}

// applyStartFlags overrides the prepared parameters with the flags given on the command line.
func applyStartFlags(cmd *cobra.Command, launchConfig model.LaunchConfig) (model.LaunchConfig, error) {
	flags := cmd.Flags()
	if flags.Changed("gpus") {
		launchConfig.GPUs = []int{}
		for _, index := range startGPUs {
			launchConfig = launch.ToggleGPU(launchConfig, index, true)
		}
	}
	if flags.Changed("port") {
		launchConfig.Port = startPort
	}
	if flags.Changed("tp") {
		launchConfig.TensorParallelSize = startTensorParallel
	}
	if flags.Changed("gpu-util") {
		launchConfig.GPUMemoryUtilization = startGPUUtil
	}
	if flags.Changed("max-len") {
		launchConfig.MaxModelLen = startMaxModelLen
	}
	if flags.Changed("dtype") {
		dtype, err := launch.ParseDtype(startDtype)
		if err != nil {
			return launchConfig, err
		}
		launchConfig.Dtype = dtype
	}
	launchConfig.SaveAsDefault = startSaveDefault
	return launchConfig, nil
}

func stopService(key model.ServiceKey) error {
	coordinator, cleanup, err := refreshedCoordinator()
	if err != nil {
		return err
	}
	defer cleanup()

	service, ok := coordinator.Service(key)
	if !ok {
		return errors.Wrapf(dashboard.ErrUnknownService, "%s", key)
	}
	if !coordinator.Lifecycle().CanStop(key, service) {
		return fmt.Errorf("service %s is %s", key, service.Status)
	}
	outcome, err := coordinator.StopService(context.Background(), key)
	return reportOutcome(outcome, err)
}

func reportOutcome(outcome lifecycle.Outcome, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(outcome.Message)
	if !outcome.Success {
		return errors.New(outcome.Message)
	}
	return nil
}

func serviceLogs(key model.ServiceKey) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	coordinator, cleanup := newCoordinator(conf)
	defer cleanup()

	session := coordinator.OpenLogs(context.Background(), key)
	render.LogSession(os.Stdout, session)
	coordinator.CloseLogs()
	return nil
}
