package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/shihaohou/vllm-model-manager/config"
	"github.com/shihaohou/vllm-model-manager/launch"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/render"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(defaultConfigCmd)
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(setBackendCmd)
	configCmd.AddCommand(setIntervalCmd)
	configCmd.AddCommand(setSourcesCmd)
	configCmd.AddCommand(setMqttCmd)
	configCmd.AddCommand(serviceConfigCmd)
	setMqttCmd.Flags().StringVarP(&mqttTopic, "topic", "t", "", "Topic the notifications are published to")
	addLaunchFlags(serviceConfigCmd)
	serviceConfigCmd.Flags().BoolVar(&saveServiceConfig, "set", false, "Save the stored defaults with the launch flags applied")
}

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "configure the model manager",
	}
	defaultConfigCmd = &cobra.Command{
		Use:   "default",
		Short: "generates the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return defaultConfig()
		},
	}
	showConfigCmd = &cobra.Command{
		Use:   "show",
		Short: "print the configuration in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig()
		},
	}
	setBackendCmd = &cobra.Command{
		Use:   "backend [url]",
		Short: "set the backend origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configBackend(args[0])
		},
	}
	setIntervalCmd = &cobra.Command{
		Use:   "interval [ms]",
		Short: "set the refresh interval in milliseconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configInterval(args[0])
		},
	}
	setSourcesCmd = &cobra.Command{
		Use:   "sources [system] [gpu]",
		Short: "read the host from backend|local and the GPUs from backend|nvidia-smi|nvml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configSources(args[0], args[1])
		},
	}
	setMqttCmd = &cobra.Command{
		Use:   "mqtt [broker]",
		Short: "publish notifications to an MQTT broker, empty string disables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configMqtt(args[0])
		},
	}
	serviceConfigCmd = &cobra.Command{
		Use:   "service [service]",
		Short: "print the launch configuration the backend stores for a service, --set updates it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if saveServiceConfig {
				return setServiceConfig(cmd, model.ServiceKey(args[0]))
			}
			return showServiceConfig(model.ServiceKey(args[0]))
		},
	}
	mqttTopic         string
	saveServiceConfig bool
)

func confManager() config.ConfFileManager {
	config.ConfPath = confPath
	return config.GetConfFileManager()
}

func defaultConfig() error {
	return confManager().Write(config.GenDefaultConfig())
}

func showConfig() error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration %s:\n", config.ConfPath)
	fmt.Printf("\t - backend: %s\n", conf.BackendAddress)
	fmt.Printf("\t - refresh interval: %v\n", conf.RefreshInterval())
	fmt.Printf("\t - request timeout: %v\n", conf.RequestTimeout())
	fmt.Printf("\t - gateway: %s\n", conf.GatewayAddress)
	fmt.Printf("\t - system source: %s\n", conf.SystemSource)
	fmt.Printf("\t - gpu source: %s\n", conf.GPUSource)
	if conf.MqttBroker == "" {
		fmt.Println("\t - mqtt: ❌ Disabled")
	} else {
		fmt.Printf("\t - mqtt: 🟢 %s (%s)\n", conf.MqttBroker, conf.MqttTopic)
	}
	return nil
}

func configBackend(address string) error {
	manager := confManager()
	conf, err := manager.Get()
	if err != nil {
		return err
	}
	conf.BackendAddress = address
	return manager.Write(conf)
}

func configInterval(raw string) error {
	interval, err := strconv.Atoi(raw)
	if err != nil || interval <= 0 {
		return fmt.Errorf("invalid interval %q, expected a positive number of milliseconds", raw)
	}
	manager := confManager()
	conf, err := manager.Get()
	if err != nil {
		return err
	}
	conf.RefreshIntervalMs = interval
	return manager.Write(conf)
}

func configSources(system string, gpu string) error {
	manager := confManager()
	conf, err := manager.Get()
	if err != nil {
		return err
	}
	conf.SystemSource = system
	conf.GPUSource = gpu
	if err := conf.Validate(); err != nil {
		return err
	}
	return manager.Write(conf)
}

func configMqtt(broker string) error {
	manager := confManager()
	conf, err := manager.Get()
	if err != nil {
		return err
	}
	conf.MqttBroker = broker
	if mqttTopic != "" {
		conf.MqttTopic = mqttTopic
	}
	return manager.Write(conf)
}

func showServiceConfig(key model.ServiceKey) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	result, err := newClient(conf).GetServiceConfig(context.Background(), key)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("service %s: %s", key, result.Message)
	}
	render.ServiceConfig(os.Stdout, key, result)
	return nil
}

// setServiceConfig overrides the stored defaults of a service with the launch flags and saves them.
func setServiceConfig(cmd *cobra.Command, key model.ServiceKey) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	client := newClient(conf)
	stored, err := client.GetServiceConfig(context.Background(), key)
	if err != nil {
		return err
	}
	if !stored.Success {
		return fmt.Errorf("service %s: %s", key, stored.Message)
	}

	launchConfig := launch.BuildInitial(model.ServiceSnapshot{DefaultParams: &stored.Config}, nil)
	launchConfig, err = applyStartFlags(cmd, launchConfig)
	if err != nil {
		return err
	}
	launchConfig.SaveAsDefault = false
	if err := launch.Validate(launchConfig); err != nil {
		return err
	}

	result, err := client.SaveServiceConfig(context.Background(), key, launchConfig)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("service %s: %s", key, result.Message)
	}
	render.LaunchConfig(os.Stdout, launchConfig)
	fmt.Println(result.Message)
	return nil
}
