package model

type Dtype string

const (
	DTYPE_AUTO     Dtype = "auto"
	DTYPE_FLOAT16  Dtype = "float16"
	DTYPE_BFLOAT16 Dtype = "bfloat16"
)

// Dtypes lists the dtypes an operator can pick, in menu order.
var Dtypes = []Dtype{DTYPE_AUTO, DTYPE_FLOAT16, DTYPE_BFLOAT16}

// LaunchConfig is the operator-edited parameter set sent with a start command.
// The JSON names are the ones the backend reads from a start request body.
type LaunchConfig struct {
	GPUs                 []int   `json:"gpus"`
	Port                 int     `json:"port"`
	TensorParallelSize   int     `json:"tensorParallelSize"`
	GPUMemoryUtilization float64 `json:"gpuUtil"`
	MaxModelLen          int     `json:"maxModelLen"`
	Dtype                Dtype   `json:"dtype"`
	SaveAsDefault        bool    `json:"saveAsDefault"`
}

// LifecycleState is the per-service command-in-progress flag.
type LifecycleState struct {
	Busy bool `json:"busy"`
}
