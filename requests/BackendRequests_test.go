package requests

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shihaohou/vllm-model-manager/model"
	"gotest.tools/assert"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", time.Second)
}

func TestGetSystemKeepsFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/system")
		_, _ = io.WriteString(w, `{"cpu_percent": 45.2, "memory_percent": 60.0, "memory_used_gb": 12.0, "memory_total_gb": 20.0, "disk_percent": 30.0, "disk_used_gb": 90, "disk_total_gb": 300}`)
	})

	system, err := client.GetSystem(context.Background())
	assert.NilError(t, err)
	assert.DeepEqual(t, system, model.SystemSnapshot{
		CPUPercent:    45.2,
		MemoryPercent: 60.0,
		MemoryUsedGB:  12.0,
		MemoryTotalGB: 20.0,
		DiskPercent:   30.0,
		DiskUsedGB:    90,
		DiskTotalGB:   300,
	})
}

func TestGetGPUsNon2xxIsTransportError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.GetGPUs(context.Background())
	var transportErr *TransportError
	assert.Assert(t, errors.As(err, &transportErr))
	assert.Equal(t, transportErr.StatusCode, http.StatusBadGateway)
}

func TestGetServicesUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL, time.Second)

	_, err := client.GetServices(context.Background())
	var transportErr *TransportError
	assert.Assert(t, errors.As(err, &transportErr))
	assert.Equal(t, transportErr.StatusCode, 0)
}

func TestStartServiceSendsLaunchConfig(t *testing.T) {
	var received map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, http.MethodPost)
		assert.Equal(t, r.URL.Path, "/api/service/qwen/start")
		assert.Equal(t, r.Header.Get("Content-Type"), "application/json")
		assert.NilError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = io.WriteString(w, `{"success": true, "message": "ok"}`)
	})

	result, err := client.StartService(context.Background(), "qwen", model.LaunchConfig{
		GPUs:                 []int{0, 1},
		Port:                 8001,
		TensorParallelSize:   2,
		GPUMemoryUtilization: 0.85,
		MaxModelLen:          8192,
		Dtype:                model.DTYPE_BFLOAT16,
		SaveAsDefault:        true,
	})
	assert.NilError(t, err)
	assert.Assert(t, result.Success)
	assert.DeepEqual(t, received["gpus"], []interface{}{0.0, 1.0})
	assert.Equal(t, received["tensorParallelSize"], 2.0)
	assert.Equal(t, received["gpuUtil"], 0.85)
	assert.Equal(t, received["maxModelLen"], 8192.0)
	assert.Equal(t, received["dtype"], "bfloat16")
	assert.Equal(t, received["saveAsDefault"], true)
}

func TestStopServiceRejectionWithErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"success": false, "message": "process not found"}`)
	})

	result, err := client.StopService(context.Background(), "svc1")
	assert.NilError(t, err)
	assert.Assert(t, !result.Success)
	assert.Equal(t, result.Message, "process not found")
}

func TestCommandWithoutBodyOnErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `<html>oops</html>`)
	})

	_, err := client.StopService(context.Background(), "svc1")
	var transportErr *TransportError
	assert.Assert(t, errors.As(err, &transportErr))
	assert.Equal(t, transportErr.StatusCode, http.StatusInternalServerError)
}

func TestGetLogsRequestsLineCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/service/svc2/logs")
		assert.Equal(t, r.URL.Query().Get("lines"), "200")
		_, _ = io.WriteString(w, `{"success": true, "logs": "INFO started\n"}`)
	})

	result, err := client.GetLogs(context.Background(), "svc2", LOG_LINES)
	assert.NilError(t, err)
	assert.Equal(t, result.Logs, "INFO started\n")
}

func TestGetServiceConfig(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/service/qwen/config")
		_, _ = io.WriteString(w, `{"success": true, "config": {"gpus": [0], "port": 8001, "dtype": "auto"}, "model_path": "/models/qwen"}`)
	})

	result, err := client.GetServiceConfig(context.Background(), "qwen")
	assert.NilError(t, err)
	assert.Equal(t, result.ModelPath, "/models/qwen")
	assert.Equal(t, result.Config.Port, 8001)
}

func TestSaveServiceConfigPostsParams(t *testing.T) {
	var received struct {
		Params map[string]interface{} `json:"params"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, http.MethodPost)
		assert.Equal(t, r.URL.Path, "/api/service/qwen/config")
		assert.NilError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = io.WriteString(w, `{"success": true, "message": "saved"}`)
	})

	result, err := client.SaveServiceConfig(context.Background(), "qwen", model.LaunchConfig{
		GPUs:                 []int{2},
		Port:                 8005,
		TensorParallelSize:   1,
		GPUMemoryUtilization: 0.8,
		MaxModelLen:          4096,
		Dtype:                model.DTYPE_FLOAT16,
	})
	assert.NilError(t, err)
	assert.Assert(t, result.Success)
	assert.Equal(t, result.Message, "saved")
	assert.DeepEqual(t, received.Params["gpus"], []interface{}{2.0})
	assert.Equal(t, received.Params["port"], 8005.0)
	assert.Equal(t, received.Params["gpuUtil"], 0.8)
	assert.Equal(t, received.Params["dtype"], "float16")
}

func TestSaveServiceConfigUnknownService(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"success": false, "message": "unknown service"}`)
	})

	result, err := client.SaveServiceConfig(context.Background(), "missing", model.LaunchConfig{GPUs: []int{0}})
	assert.NilError(t, err)
	assert.Assert(t, !result.Success)
	assert.Equal(t, result.Message, "unknown service")
}
