package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shihaohou/vllm-model-manager/launch"
	"github.com/shihaohou/vllm-model-manager/logview"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/notify"
	"github.com/shihaohou/vllm-model-manager/requests"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

const servicesBody = `{
	"qwen": {"name": "Qwen2.5-72B", "port": 8001, "gpus": [0, 1], "status": "running", "pid": 4242},
	"llama": {"name": "Llama-3-8B", "port": 8002, "gpus": [], "status": "stopped"}
}`

const gpuBody = `[
	{"index": 0, "name": "NVIDIA A100-SXM4-80GB", "temperature": 75, "utilization": 88, "memory_used": 40960, "memory_total": 81920, "power_draw": 310, "power_limit": 400},
	{"index": 1, "name": "NVIDIA A100-SXM4-80GB", "temperature": 50, "utilization": 3, "memory_used": 0, "memory_total": 0, "power_draw": 60, "power_limit": 400}
]`

const systemBody = `{"cpu_percent": 45.2, "memory_percent": 60.0, "memory_used_gb": 12.0, "memory_total_gb": 20.0, "disk_percent": 30.0, "disk_used_gb": 90, "disk_total_gb": 300}`

// fakeBackend serves the backend API. Setting a path in failing answers it with a 503.
type fakeBackend struct {
	mu      sync.Mutex
	failing map[string]bool
	starts  int
}

func (b *fakeBackend) setFailing(path string, failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[path] = failing
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	failing := b.failing[r.URL.Path]
	if r.URL.Path == "/api/service/llama/start" {
		b.starts++
	}
	b.mu.Unlock()
	if failing {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case "/api/services":
		_, _ = io.WriteString(w, servicesBody)
	case "/api/gpu":
		_, _ = io.WriteString(w, gpuBody)
	case "/api/system":
		_, _ = io.WriteString(w, systemBody)
	case "/api/service/llama/start":
		_, _ = io.WriteString(w, `{"success": true, "message": "started"}`)
	case "/api/service/qwen/stop":
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"success": false, "message": "process not found"}`)
	case "/api/service/llama/logs":
		_, _ = io.WriteString(w, `{"success": true, "logs": ""}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeBackend) {
	backend := &fakeBackend{failing: map[string]bool{}}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	client := requests.NewClient(server.URL, time.Second)
	coordinator := NewCoordinator(client, Options{
		BackendAddress:  server.URL,
		RefreshInterval: time.Hour,
	})
	return coordinator, backend
}

func TestViewBeforeFirstPoll(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	view := coordinator.View()
	assert.Equal(t, view.System.State, SECTION_LOADING)
	assert.Equal(t, view.GPUs.State, SECTION_LOADING)
	assert.Equal(t, view.Services.State, SECTION_LOADING)
	assert.NilError(t, view.Connectivity)
	assert.Equal(t, view.Log.Phase, logview.PHASE_CLOSED)
	assert.Equal(t, view.RefreshInterval, time.Hour)
}

func TestSystemSnapshotFieldsUnmodified(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	coordinator.Refresh(context.Background())

	view := coordinator.View()
	assert.Equal(t, view.System.State, SECTION_READY)
	assert.DeepEqual(t, view.System.Snapshot, model.SystemSnapshot{
		CPUPercent:    45.2,
		MemoryPercent: 60.0,
		MemoryUsedGB:  12.0,
		MemoryTotalGB: 20.0,
		DiskPercent:   30.0,
		DiskUsedGB:    90,
		DiskTotalGB:   300,
	})
}

func TestGPUCardsAndHistory(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	coordinator.Refresh(context.Background())
	coordinator.Refresh(context.Background())

	cards := coordinator.View().GPUs.Cards
	assert.Assert(t, is.Len(cards, 2))
	assert.Equal(t, cards[0].DisplayName, "A100-SXM4-80GB")
	assert.Equal(t, cards[0].MemoryPercent, 50.0)
	assert.Equal(t, cards[0].TemperatureLevel, model.TEMPERATURE_WARM)
	assert.Equal(t, cards[1].MemoryPercent, 0.0)
	assert.Assert(t, is.Len(cards[0].History, 2))
	assert.Equal(t, cards[0].History[1].Value, 88.0)
}

func TestServiceCardsOrderedWithActions(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	coordinator.Refresh(context.Background())

	services := coordinator.View().Services
	assert.Equal(t, services.State, SECTION_READY)
	assert.Assert(t, is.Len(services.Cards, 2))
	assert.Equal(t, services.Cards[0].Key, model.ServiceKey("llama"))
	assert.Assert(t, services.Cards[0].CanStart)
	assert.Assert(t, !services.Cards[0].CanStop)
	assert.Equal(t, services.Cards[1].Key, model.ServiceKey("qwen"))
	assert.Assert(t, services.Cards[1].Running)
	assert.Assert(t, services.Cards[1].CanStop)
}

func TestConnectivityErrorUntilFirstSuccess(t *testing.T) {
	coordinator, backend := newTestCoordinator(t)
	backend.setFailing("/api/gpu", true)
	coordinator.Refresh(context.Background())

	err := coordinator.View().Connectivity
	assert.Assert(t, errors.Is(err, ErrConnectivity))
	var connectivity *ConnectivityError
	assert.Assert(t, errors.As(err, &connectivity))
	assert.DeepEqual(t, connectivity.Resources, []string{"gpu"})
	assert.Equal(t, connectivity.Address, coordinator.BackendAddress())
	assert.Assert(t, is.Contains(err.Error(), coordinator.BackendAddress()))

	backend.setFailing("/api/gpu", false)
	coordinator.Refresh(context.Background())
	assert.NilError(t, coordinator.View().Connectivity)

	// once connected, a failure keeps the stale data instead of raising the error
	backend.setFailing("/api/gpu", true)
	coordinator.Refresh(context.Background())
	view := coordinator.View()
	assert.NilError(t, view.Connectivity)
	assert.Assert(t, view.GPUs.Err != nil)
	assert.Assert(t, is.Len(view.GPUs.Cards, 2))
}

func TestConnectivityErrorListsEachUnconnectedResource(t *testing.T) {
	coordinator, backend := newTestCoordinator(t)
	backend.setFailing("/api/gpu", true)
	backend.setFailing("/api/system", true)
	coordinator.Refresh(context.Background())

	var connectivity *ConnectivityError
	assert.Assert(t, errors.As(coordinator.View().Connectivity, &connectivity))
	assert.DeepEqual(t, connectivity.Resources, []string{"gpu", "system"})

	backend.setFailing("/api/system", false)
	coordinator.Refresh(context.Background())
	assert.Assert(t, errors.As(coordinator.View().Connectivity, &connectivity))
	assert.DeepEqual(t, connectivity.Resources, []string{"gpu"})

	backend.setFailing("/api/gpu", false)
	coordinator.Refresh(context.Background())
	assert.NilError(t, coordinator.View().Connectivity)
}

func TestPrepareStartUsesCurrentGPUs(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	_, err := coordinator.PrepareStart("llama")
	assert.Assert(t, errors.Is(err, ErrUnknownService))

	coordinator.Refresh(context.Background())
	config, err := coordinator.PrepareStart("llama")
	assert.NilError(t, err)
	assert.DeepEqual(t, config.GPUs, []int{0})
	assert.Equal(t, config.Port, 8002)
	assert.Equal(t, config.Dtype, model.DTYPE_AUTO)
}

func TestStartAndStopThroughLifecycle(t *testing.T) {
	coordinator, backend := newTestCoordinator(t)
	coordinator.Refresh(context.Background())
	changes := 0
	coordinator.OnChange(func() { changes++ })

	_, err := coordinator.StartService(context.Background(), "llama", model.LaunchConfig{})
	assert.Equal(t, err, launch.ErrNoGPUSelected)
	assert.Equal(t, backend.starts, 0)

	config, _ := coordinator.PrepareStart("llama")
	outcome, err := coordinator.StartService(context.Background(), "llama", config)
	assert.NilError(t, err)
	assert.Assert(t, outcome.Success)
	assert.Equal(t, backend.starts, 1)

	outcome, err = coordinator.StopService(context.Background(), "qwen")
	assert.NilError(t, err)
	assert.Equal(t, outcome.Message, "stop failed: process not found")
	assert.Assert(t, !coordinator.Lifecycle().IsBusy("qwen"))
	assert.Equal(t, changes, 3)

	notifications := coordinator.View().Notifications
	assert.Assert(t, is.Len(notifications, 3))
	assert.Equal(t, notifications[2].Level, notify.LEVEL_ERROR)
	assert.Assert(t, coordinator.DismissNotification(notifications[2].ID))
	assert.Assert(t, is.Len(coordinator.View().Notifications, 2))

	coordinator.ExpireNotifications(time.Hour)
	assert.Assert(t, is.Len(coordinator.View().Notifications, 2))
	coordinator.ExpireNotifications(0)
	assert.Assert(t, is.Len(coordinator.View().Notifications, 0))
}

func TestOpenLogsUsesServiceName(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	coordinator.Refresh(context.Background())

	session := coordinator.OpenLogs(context.Background(), "llama")
	assert.Equal(t, session.ServiceName, "Llama-3-8B")
	assert.Equal(t, session.Text, logview.EMPTY_LOG_TEXT)
	assert.Equal(t, coordinator.View().Log.Phase, logview.PHASE_LOADED)

	coordinator.CloseLogs()
	assert.Equal(t, coordinator.View().Log.Phase, logview.PHASE_CLOSED)
}

func TestLocalSourcesOverrideBackend(t *testing.T) {
	backend := &fakeBackend{failing: map[string]bool{"/api/system": true}}
	server := httptest.NewServer(backend)
	defer server.Close()

	coordinator := NewCoordinator(requests.NewClient(server.URL, time.Second), Options{
		BackendAddress:  server.URL,
		RefreshInterval: time.Hour,
		Sources: Sources{
			System: func(context.Context) (model.SystemSnapshot, error) {
				return model.SystemSnapshot{CPUPercent: 12}, nil
			},
		},
	})
	coordinator.Refresh(context.Background())

	view := coordinator.View()
	assert.NilError(t, view.Connectivity)
	assert.Equal(t, view.System.Snapshot.CPUPercent, 12.0)
}

func TestStartStopPollers(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	updated := make(chan struct{}, 8)
	coordinator.OnChange(func() {
		select {
		case updated <- struct{}{}:
		default:
		}
	})

	coordinator.Start(context.Background())
	for i := 0; i < 3; i++ {
		select {
		case <-updated:
		case <-time.After(2 * time.Second):
			t.Fatal("pollers did not report")
		}
	}
	coordinator.Stop()
}
