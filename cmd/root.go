package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shihaohou/vllm-model-manager/config"
	"github.com/shihaohou/vllm-model-manager/dashboard"
	"github.com/shihaohou/vllm-model-manager/gateway"
	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/mqtt"
	"github.com/shihaohou/vllm-model-manager/render"
	"github.com/shihaohou/vllm-model-manager/requests"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	rootCmd = &cobra.Command{
		Use:   "vllm-manager",
		Short: "Watch and operate vLLM model services",
		Long:  `Live dashboard of the GPUs, the host and the vLLM services managed by the backend`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return watchDashboard()
		},
	}
	confPath        string
	backendAddress  string
	refreshInterval int
	serveGateway    bool
	logFile         string
)

// REDRAW_THROTTLE bounds how often the watch view is redrawn when several pollers answer together.
const REDRAW_THROTTLE = time.Millisecond * 200

// NOTIFICATION_TTL is how long a notification stays on the watch view.
const NOTIFICATION_TTL = time.Second * 5

// Execute is the entry point of the manager CLI
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&confPath, "config", "c", config.DEFAULT_CONF_PATH, "Path of the configuration file")
	rootCmd.PersistentFlags().StringVarP(&backendAddress, "backend", "b", "", "Backend origin, overrides the configuration (e.g. http://localhost:9000)")
	rootCmd.Flags().IntVarP(&refreshInterval, "interval", "i", 0, "Refresh interval in milliseconds, overrides the configuration")
	rootCmd.Flags().BoolVarP(&serveGateway, "gateway", "g", false, "Also serve the /api gateway on the configured gateway address")
	rootCmd.Flags().StringVarP(&logFile, "log-file", "l", "", "Write logs to this file instead of stderr, keeps the dashboard readable")
}

func loadConfig() (config.ConfFile, error) {
	config.ConfPath = confPath
	conf, err := config.GetConfFileManager().Get()
	if err != nil {
		return conf, err
	}
	if backendAddress != "" {
		conf.BackendAddress = backendAddress
	}
	if refreshInterval > 0 {
		conf.RefreshIntervalMs = refreshInterval
	}
	return conf, conf.Validate()
}

func newClient(conf config.ConfFile) *requests.Client {
	return requests.NewClient(conf.BackendAddress, conf.RequestTimeout())
}

// snapshotSources picks the configured readers; unset fields keep the backend.
func snapshotSources(conf config.ConfFile) dashboard.Sources {
	sources := dashboard.Sources{}
	if conf.SystemSource == config.SOURCE_LOCAL {
		sources.System = model.GetLocalSystemInfo
	}
	switch conf.GPUSource {
	case config.SOURCE_NVIDIA_SMI:
		sources.GPUs = model.GetNvsmiGPUInfo
	case config.SOURCE_NVML:
		sources.GPUs = model.GetNvmlGPUInfo
	}
	return sources
}

// newCoordinator wires the dashboard. The returned cleanup closes the MQTT connection if any.
func newCoordinator(conf config.ConfFile) (*dashboard.Coordinator, func()) {
	options := dashboard.Options{
		BackendAddress:    conf.BackendAddress,
		RefreshInterval:   conf.RefreshInterval(),
		Sources:           snapshotSources(conf),
		NotificationLimit: conf.NotificationLimit,
	}
	cleanup := func() {}
	if conf.MqttBroker != "" {
		notifier := mqtt.NewNotifier(conf.MqttBroker, conf.MqttTopic)
		options.Notifier = notifier
		cleanup = notifier.Close
	}
	return dashboard.NewCoordinator(newClient(conf), options), cleanup
}

func signalContext() (context.Context, context.CancelFunc) {
	// SIGKILL cannot be trapped, using SIGTERM instead
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func watchDashboard() error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer file.Close()
		logger.SetOutput(file)
	}

	coordinator, cleanup := newCoordinator(conf)
	defer cleanup()

	ctx, stop := signalContext()
	defer stop()

	redraw := make(chan struct{}, 1)
	coordinator.OnChange(func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})

	group, ctx := errgroup.WithContext(ctx)
	if serveGateway {
		server := gateway.NewServer(conf.BackendAddress, conf.RequestTimeout())
		group.Go(func() error {
			return server.ListenAndServe(ctx, conf.GatewayAddress)
		})
	}
	group.Go(func() error {
		coordinator.Start(ctx)
		defer coordinator.Stop()
		return drawLoop(ctx, coordinator, redraw)
	})

	err = group.Wait()
	logger.InfoLogger().Printf("Terminating the dashboard")
	return err
}

var drawLock sync.Mutex

func drawLoop(ctx context.Context, coordinator *dashboard.Coordinator, redraw <-chan struct{}) error {
	throttle := time.NewTicker(REDRAW_THROTTLE)
	defer throttle.Stop()
	expiry := time.NewTicker(time.Second)
	defer expiry.Stop()

	pending := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-redraw:
			pending = true
		case <-expiry.C:
			coordinator.ExpireNotifications(NOTIFICATION_TTL)
			pending = true
		case <-throttle.C:
			if pending {
				draw(coordinator)
				pending = false
			}
		}
	}
}

func draw(coordinator *dashboard.Coordinator) {
	drawLock.Lock()
	defer drawLock.Unlock()
	// clear screen and home the cursor
	fmt.Print("\033[H\033[2J")
	render.Dashboard(os.Stdout, coordinator.View())
}
