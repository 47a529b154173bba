package launch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shihaohou/vllm-model-manager/model"
)

// Fallbacks used when neither the server defaults nor the snapshot provide a value.
const (
	DEFAULT_TENSOR_PARALLEL_SIZE   = 1
	DEFAULT_GPU_MEMORY_UTILIZATION = 0.9
	DEFAULT_MAX_MODEL_LEN          = 4096
	DEFAULT_DTYPE                  = model.DTYPE_AUTO
)

// ErrNoGPUSelected rejects a launch config before it reaches the backend.
var ErrNoGPUSelected = errors.New("select at least one GPU")

// BuildInitial seeds the start dialog for a service. Each field resolves from the server-declared
// default, then the current snapshot, then a fixed fallback. Zero values and empty lists count
// as absent.
func BuildInitial(service model.ServiceSnapshot, availableGPUs []model.GPUSnapshot) model.LaunchConfig {
	defaults := model.DefaultParams{}
	if service.DefaultParams != nil {
		defaults = *service.DefaultParams
	}

	config := model.LaunchConfig{
		GPUs:                 firstGPUs(defaults.GPUs, service.GPUs, fallbackGPUs(availableGPUs)),
		Port:                 firstInt(defaults.Port, service.Port),
		TensorParallelSize:   firstInt(defaults.TensorParallelSize, DEFAULT_TENSOR_PARALLEL_SIZE),
		GPUMemoryUtilization: DEFAULT_GPU_MEMORY_UTILIZATION,
		MaxModelLen:          firstInt(defaults.MaxModelLen, DEFAULT_MAX_MODEL_LEN),
		Dtype:                DEFAULT_DTYPE,
		SaveAsDefault:        false,
	}
	if defaults.GPUMemoryUtilization != 0 {
		config.GPUMemoryUtilization = defaults.GPUMemoryUtilization
	}
	if defaults.Dtype != "" {
		config.Dtype = model.Dtype(defaults.Dtype)
	}
	return config
}

// Validate only requires a GPU selection; the numeric fields are passed through as entered.
func Validate(config model.LaunchConfig) error {
	if len(config.GPUs) == 0 {
		return ErrNoGPUSelected
	}
	return nil
}

// ToggleGPU returns config with the GPU added or removed. The selection stays sorted and unique.
func ToggleGPU(config model.LaunchConfig, index int, selected bool) model.LaunchConfig {
	gpus := make([]int, 0, len(config.GPUs)+1)
	for _, g := range config.GPUs {
		if g != index {
			gpus = append(gpus, g)
		}
	}
	if selected {
		gpus = append(gpus, index)
	}
	sort.Ints(gpus)
	config.GPUs = gpus
	return config
}

// ParseDtype accepts the dtypes offered to the operator.
func ParseDtype(raw string) (model.Dtype, error) {
	for _, dtype := range model.Dtypes {
		if string(dtype) == raw {
			return dtype, nil
		}
	}
	names := make([]string, 0, len(model.Dtypes))
	for _, dtype := range model.Dtypes {
		names = append(names, string(dtype))
	}
	return "", fmt.Errorf("unknown dtype %q, expected one of %s", raw, strings.Join(names, ", "))
}

func fallbackGPUs(available []model.GPUSnapshot) []int {
	if len(available) == 0 {
		return []int{}
	}
	return []int{available[0].Index}
}

// firstGPUs skips empty lists, so a declared default of [] falls through to the snapshot or the
// first available GPU rather than opening the dialog with nothing selected.
func firstGPUs(candidates ...[]int) []int {
	for _, gpus := range candidates {
		if len(gpus) > 0 {
			out := make([]int, len(gpus))
			copy(out, gpus)
			return out
		}
	}
	return []int{}
}

func firstInt(candidates ...int) int {
	for _, v := range candidates {
		if v != 0 {
			return v
		}
	}
	return 0
}
