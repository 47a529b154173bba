package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/tkanos/gonfig"
)

const (
	DEFAULT_BACKEND_ADDRESS     = "http://localhost:9000"
	DEFAULT_REFRESH_INTERVAL_MS = 5000
	DEFAULT_REQUEST_TIMEOUT_MS  = 10000
	DEFAULT_GATEWAY_ADDRESS     = ":3000"
	DEFAULT_NOTIFICATION_LIMIT  = 5
)

// Where the snapshots come from. The backend is the default for both; the local sources read
// the host the manager runs on.
const (
	SOURCE_BACKEND    = "backend"
	SOURCE_LOCAL      = "local"
	SOURCE_NVIDIA_SMI = "nvidia-smi"
	SOURCE_NVML       = "nvml"
)

var DEFAULT_CONF_PATH = "/etc/vllm-manager/conf.json"

// ConfPath is the file read and written by the ConfFileManager. Set by --config.
var ConfPath = DEFAULT_CONF_PATH

type ConfFile struct {
	ConfVersion       string `json:"conf_version"`
	BackendAddress    string `json:"backend_address" env:"API_URL"`
	RefreshIntervalMs int    `json:"refresh_interval_ms" env:"VLLM_MANAGER_REFRESH_INTERVAL_MS"`
	RequestTimeoutMs  int    `json:"request_timeout_ms" env:"VLLM_MANAGER_REQUEST_TIMEOUT_MS"`
	GatewayAddress    string `json:"gateway_address" env:"VLLM_MANAGER_GATEWAY_ADDRESS"`
	SystemSource      string `json:"system_source" env:"VLLM_MANAGER_SYSTEM_SOURCE"`
	GPUSource         string `json:"gpu_source" env:"VLLM_MANAGER_GPU_SOURCE"`
	MqttBroker        string `json:"mqtt_broker" env:"VLLM_MANAGER_MQTT_BROKER"`
	MqttTopic         string `json:"mqtt_topic" env:"VLLM_MANAGER_MQTT_TOPIC"`
	NotificationLimit int    `json:"notification_limit" env:"VLLM_MANAGER_NOTIFICATION_LIMIT"`
}

type ConfFileManager interface {
	Get() (ConfFile, error)
	Write(ConfFile) error
}

type fileManager struct {
	path string
}

func GetConfFileManager() ConfFileManager {
	return &fileManager{path: ConfPath}
}

func NewConfFileManager(path string) ConfFileManager {
	return &fileManager{path: path}
}

// Get reads the conf file and applies the environment overrides. A missing file yields the
// default configuration, still subject to the environment.
func (m *fileManager) Get() (ConfFile, error) {
	conf := GenDefaultConfig()
	filename := m.path
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		logger.InfoLogger().Printf("No configuration at %s, using defaults", m.path)
		filename = ""
	}
	if err := gonfig.GetConf(filename, &conf); err != nil {
		return GenDefaultConfig(), errors.Wrapf(err, "reading configuration %s", m.path)
	}
	return conf.withDefaults(), nil
}

func (m *fileManager) Write(conf ConfFile) error {
	marshalled, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(m.path))
	}
	if err := os.WriteFile(m.path, marshalled, 0644); err != nil {
		return errors.Wrapf(err, "writing configuration %s", m.path)
	}
	return nil
}

func GenDefaultConfig() ConfFile {
	return ConfFile{
		ConfVersion:       "1.0",
		BackendAddress:    DEFAULT_BACKEND_ADDRESS,
		RefreshIntervalMs: DEFAULT_REFRESH_INTERVAL_MS,
		RequestTimeoutMs:  DEFAULT_REQUEST_TIMEOUT_MS,
		GatewayAddress:    DEFAULT_GATEWAY_ADDRESS,
		SystemSource:      SOURCE_BACKEND,
		GPUSource:         SOURCE_BACKEND,
		MqttTopic:         "vllm-manager/notifications",
		NotificationLimit: DEFAULT_NOTIFICATION_LIMIT,
	}
}

// withDefaults fills fields left empty in an older or hand-edited file.
func (c ConfFile) withDefaults() ConfFile {
	defaults := GenDefaultConfig()
	if c.BackendAddress == "" {
		c.BackendAddress = defaults.BackendAddress
	}
	if c.RefreshIntervalMs <= 0 {
		c.RefreshIntervalMs = defaults.RefreshIntervalMs
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = defaults.RequestTimeoutMs
	}
	if c.GatewayAddress == "" {
		c.GatewayAddress = defaults.GatewayAddress
	}
	if c.SystemSource == "" {
		c.SystemSource = defaults.SystemSource
	}
	if c.GPUSource == "" {
		c.GPUSource = defaults.GPUSource
	}
	if c.NotificationLimit <= 0 {
		c.NotificationLimit = defaults.NotificationLimit
	}
	return c
}

// Validate rejects unknown snapshot sources.
func (c ConfFile) Validate() error {
	switch c.SystemSource {
	case SOURCE_BACKEND, SOURCE_LOCAL:
	default:
		return fmt.Errorf("unknown system_source %q, expected %s or %s", c.SystemSource, SOURCE_BACKEND, SOURCE_LOCAL)
	}
	switch c.GPUSource {
	case SOURCE_BACKEND, SOURCE_NVIDIA_SMI, SOURCE_NVML:
	default:
		return fmt.Errorf("unknown gpu_source %q, expected %s, %s or %s", c.GPUSource, SOURCE_BACKEND, SOURCE_NVIDIA_SMI, SOURCE_NVML)
	}
	return nil
}

func (c ConfFile) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

func (c ConfFile) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
