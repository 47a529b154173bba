package model

import (
	"context"
	"strconv"
	"strings"
	"sync"

	nvml "github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"
	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/shihaohou/vllm-model-manager/model/gpu"
)

// GPUSnapshot is one accelerator as reported by a single poll. Index is the stable identity.
type GPUSnapshot struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	Utilization float64 `json:"utilization"`
	MemoryUsed  float64 `json:"memory_used"`
	MemoryTotal float64 `json:"memory_total"`
	PowerDraw   float64 `json:"power_draw"`
	PowerLimit  float64 `json:"power_limit"`
}

type TemperatureLevel string

const (
	TEMPERATURE_NORMAL TemperatureLevel = "normal"
	TEMPERATURE_WARM   TemperatureLevel = "warm"
	TEMPERATURE_HOT    TemperatureLevel = "hot"
)

// MemoryPercent returns used/total as a percentage in [0,100]; 0 when the total is unknown.
func (g GPUSnapshot) MemoryPercent() float64 {
	if g.MemoryTotal <= 0 {
		return 0
	}
	percent := g.MemoryUsed / g.MemoryTotal * 100
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func (g GPUSnapshot) TemperatureLevel() TemperatureLevel {
	switch {
	case g.Temperature > 80:
		return TEMPERATURE_HOT
	case g.Temperature > 70:
		return TEMPERATURE_WARM
	default:
		return TEMPERATURE_NORMAL
	}
}

// DisplayName drops the vendor prefixes so the card label fits.
func (g GPUSnapshot) DisplayName() string {
	name := strings.Replace(g.Name, "NVIDIA ", "", 1)
	return strings.Replace(name, "GeForce ", "", 1)
}

var nvsmiFields = []string{
	"index",
	"name",
	"utilization.gpu",
	"memory.used",
	"memory.total",
	"temperature.gpu",
	"power.draw",
	"power.limit",
}

// GetNvsmiGPUInfo reads every local GPU through nvidia-smi.
func GetNvsmiGPUInfo(ctx context.Context) ([]GPUSnapshot, error) {
	rows, err := gpu.NvsmiQueryAll(ctx, strings.Join(nvsmiFields, ","))
	if err != nil {
		return nil, errors.Wrap(err, "nvidia-smi query failed")
	}
	gpus := make([]GPUSnapshot, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(nvsmiFields) {
			continue
		}
		index, err := strconv.Atoi(row[0])
		if err != nil {
			logger.ErrorLogger().Printf("Skipping nvidia-smi row with index %q: %v", row[0], err)
			continue
		}
		gpus = append(gpus, GPUSnapshot{
			Index:       index,
			Name:        row[1],
			Utilization: parseNvsmiValue(row[2]),
			MemoryUsed:  parseNvsmiValue(row[3]),
			MemoryTotal: parseNvsmiValue(row[4]),
			Temperature: parseNvsmiValue(row[5]),
			PowerDraw:   parseNvsmiValue(row[6]),
			PowerLimit:  parseNvsmiValue(row[7]),
		})
	}
	return gpus, nil
}

// parseNvsmiValue maps "[N/A]" and other unparsable values to 0.
func parseNvsmiValue(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return value
}

var nvmlInitOnce sync.Once
var nvmlInitErr error

func initNvml() error {
	nvmlInitOnce.Do(func() {
		ret := nvml.Init()
		if ret != nvml.SUCCESS {
			nvmlInitErr = errors.Errorf("unable to initialize NVML, %s", nvml.ErrorString(ret))
		}
	})
	return nvmlInitErr
}

// GetNvmlGPUInfo reads every local GPU through NVML. Memory is reported in MiB and power in W,
// the same units nvidia-smi uses.
func GetNvmlGPUInfo(_ context.Context) ([]GPUSnapshot, error) {
	if err := initNvml(); err != nil {
		return nil, err
	}
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, errors.Errorf("unable to count devices, %s", nvml.ErrorString(ret))
	}
	gpus := make([]GPUSnapshot, 0, count)
	for di := 0; di < count; di++ {
		device, ret := nvml.DeviceGetHandleByIndex(di)
		if ret != nvml.SUCCESS {
			logger.ErrorLogger().Printf("Unable to get device at index %d: %v", di, nvml.ErrorString(ret))
			continue
		}
		snapshot := GPUSnapshot{Index: di}
		if name, ret := device.GetName(); ret == nvml.SUCCESS {
			snapshot.Name = name
		}
		if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			snapshot.Temperature = float64(temp)
		}
		if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
			snapshot.Utilization = float64(util.Gpu)
		}
		if mem, ret := device.GetMemoryInfo(); ret == nvml.SUCCESS {
			snapshot.MemoryUsed = float64(mem.Used >> 20)
			snapshot.MemoryTotal = float64(mem.Total >> 20)
		}
		if power, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
			snapshot.PowerDraw = float64(power) / 1000
		}
		if limit, ret := device.GetPowerManagementLimit(); ret == nvml.SUCCESS {
			snapshot.PowerLimit = float64(limit) / 1000
		}
		gpus = append(gpus, snapshot)
	}
	return gpus, nil
}
