package model

// ServiceKey identifies a managed service; it is the key of the services map and of every
// per-service command path.
type ServiceKey string

type ServiceStatus string

const (
	SERVICE_RUNNING ServiceStatus = "running"
	SERVICE_STOPPED ServiceStatus = "stopped"
	SERVICE_ERROR   ServiceStatus = "error"
)

// DefaultParams are the launch parameters the backend stores for a service.
type DefaultParams struct {
	GPUs                 []int   `json:"gpus,omitempty"`
	Port                 int     `json:"port,omitempty"`
	TensorParallelSize   int     `json:"tensor_parallel_size,omitempty"`
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization,omitempty"`
	MaxModelLen          int     `json:"max_model_len,omitempty"`
	Dtype                string  `json:"dtype,omitempty"`
}

// ServiceSnapshot is one model-serving process as reported by a single poll. The process
// metrics are only present while the service runs.
type ServiceSnapshot struct {
	Name           string         `json:"name"`
	Port           int            `json:"port"`
	GPUs           []int          `json:"gpus"`
	Status         ServiceStatus  `json:"status"`
	PID            *int           `json:"pid,omitempty"`
	CPUPercent     *float64       `json:"cpu_percent,omitempty"`
	MemoryMB       *float64       `json:"memory_mb,omitempty"`
	GPUMemoryMB    *float64       `json:"gpu_memory_mb,omitempty"`
	Uptime         *string        `json:"uptime,omitempty"`
	Message        *string        `json:"message,omitempty"`
	PortAccessible *bool          `json:"port_accessible,omitempty"`
	DefaultParams  *DefaultParams `json:"default_params,omitempty"`
}

func (s ServiceSnapshot) IsRunning() bool {
	return s.Status == SERVICE_RUNNING
}
