package render

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shihaohou/vllm-model-manager/dashboard"
	"github.com/shihaohou/vllm-model-manager/logview"
	"github.com/shihaohou/vllm-model-manager/model"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

func TestSparkline(t *testing.T) {
	points := []model.MetricPoint{{Value: 0}, {Value: 50}, {Value: 100}, {Value: 140}}
	assert.Equal(t, Sparkline(points), "▁▅██")
	assert.Equal(t, Sparkline(nil), "")
}

func TestBar(t *testing.T) {
	assert.Equal(t, Bar(50, 10), "[#####.....]")
	assert.Equal(t, Bar(-3, 4), "[....]")
	assert.Equal(t, Bar(250, 4), "[####]")
}

func TestDashboardConnectivityScreen(t *testing.T) {
	var out bytes.Buffer
	Dashboard(&out, dashboard.View{
		BackendAddress:  "http://localhost:9000",
		RefreshInterval: 5 * time.Second,
		Connectivity:    errors.New("dial tcp: connection refused"),
		GPUs:            dashboard.GPUSection{State: dashboard.SECTION_READY},
	})
	text := out.String()
	assert.Assert(t, is.Contains(text, "auto refresh: 5s"))
	assert.Assert(t, is.Contains(text, "http://localhost:9000"))
	assert.Assert(t, !bytes.Contains(out.Bytes(), []byte("SERVICES")))
}

func TestDashboardSections(t *testing.T) {
	pid := 4242
	var out bytes.Buffer
	Dashboard(&out, dashboard.View{
		RefreshInterval: 5 * time.Second,
		System:          dashboard.SystemSection{State: dashboard.SECTION_LOADING},
		GPUs:            dashboard.GPUSection{State: dashboard.SECTION_EMPTY},
		Services: dashboard.ServiceSection{
			State: dashboard.SECTION_READY,
			Cards: []dashboard.ServiceCard{{
				Key:     "qwen",
				Service: model.ServiceSnapshot{Name: "Qwen2.5-72B", Port: 8001, GPUs: []int{0, 1}, Status: model.SERVICE_RUNNING, PID: &pid},
				Running: true,
				Busy:    true,
			}},
		},
		Log: logview.Session{ServiceKey: "qwen", ServiceName: "Qwen2.5-72B", Phase: logview.PHASE_LOADED, Text: logview.EMPTY_LOG_TEXT},
	})
	text := out.String()
	assert.Assert(t, is.Contains(text, LOADING))
	assert.Assert(t, is.Contains(text, NO_GPU))
	assert.Assert(t, is.Contains(text, "Qwen2.5-72B"))
	assert.Assert(t, is.Contains(text, "running (busy)"))
	assert.Assert(t, is.Contains(text, "4242"))
	assert.Assert(t, is.Contains(text, logview.EMPTY_LOG_TEXT))
}
