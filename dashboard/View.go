package dashboard

import (
	"time"

	"github.com/shihaohou/vllm-model-manager/jobs"
	"github.com/shihaohou/vllm-model-manager/logview"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/notify"
)

type SectionState string

const (
	SECTION_LOADING SectionState = "loading"
	SECTION_READY   SectionState = "ready"
	SECTION_EMPTY   SectionState = "empty"
)

type SystemSection struct {
	State    SectionState
	Snapshot model.SystemSnapshot
	// Err is the last refresh failure; the snapshot is still the last good one.
	Err error
}

type GPUCard struct {
	GPU              model.GPUSnapshot
	DisplayName      string
	MemoryPercent    float64
	TemperatureLevel model.TemperatureLevel
	History          []model.MetricPoint
}

type GPUSection struct {
	State SectionState
	Cards []GPUCard
	Err   error
}

type ServiceCard struct {
	Key      model.ServiceKey
	Service  model.ServiceSnapshot
	Running  bool
	Busy     bool
	CanStart bool
	CanStop  bool
}

type ServiceSection struct {
	State SectionState
	Cards []ServiceCard
	Err   error
}

// View is everything the presentation layer draws.
type View struct {
	BackendAddress  string
	RefreshInterval time.Duration
	Connectivity    error
	System          SystemSection
	GPUs            GPUSection
	Services        ServiceSection
	Log             logview.Session
	Notifications   []notify.Notification
}

func (c *Coordinator) View() View {
	return View{
		BackendAddress:  c.address,
		RefreshInterval: c.interval,
		Connectivity:    c.ConnectivityError(),
		System:          c.systemSection(c.system.State()),
		GPUs:            c.gpuSection(c.gpus.State()),
		Services:        c.serviceSection(c.services.State()),
		Log:             c.logs.Session(),
		Notifications:   c.notifications.Recent(),
	}
}

func sectionState(isLoading bool, hasData bool, empty bool) SectionState {
	switch {
	case isLoading:
		return SECTION_LOADING
	case !hasData || empty:
		return SECTION_EMPTY
	default:
		return SECTION_READY
	}
}

func (c *Coordinator) systemSection(state jobs.PollState[model.SystemSnapshot]) SystemSection {
	return SystemSection{
		State:    sectionState(state.IsLoading, state.HasData, false),
		Snapshot: state.Data,
		Err:      state.Err,
	}
}

func (c *Coordinator) gpuSection(state jobs.PollState[[]model.GPUSnapshot]) GPUSection {
	cards := make([]GPUCard, 0, len(state.Data))
	for _, gpu := range state.Data {
		cards = append(cards, GPUCard{
			GPU:              gpu,
			DisplayName:      gpu.DisplayName(),
			MemoryPercent:    gpu.MemoryPercent(),
			TemperatureLevel: gpu.TemperatureLevel(),
			History:          c.history.SequenceFor(gpu.Index),
		})
	}
	return GPUSection{
		State: sectionState(state.IsLoading, state.HasData, len(cards) == 0),
		Cards: cards,
		Err:   state.Err,
	}
}

func (c *Coordinator) serviceSection(state jobs.PollState[model.ServicesMap]) ServiceSection {
	cards := make([]ServiceCard, 0, state.Data.Len())
	state.Data.Range(func(key model.ServiceKey, service model.ServiceSnapshot) bool {
		cards = append(cards, ServiceCard{
			Key:      key,
			Service:  service,
			Running:  service.IsRunning(),
			Busy:     c.lifecycle.IsBusy(key),
			CanStart: c.lifecycle.CanStart(key, service),
			CanStop:  c.lifecycle.CanStop(key, service),
		})
		return true
	})
	return ServiceSection{
		State: sectionState(state.IsLoading, state.HasData, len(cards) == 0),
		Cards: cards,
		Err:   state.Err,
	}
}
