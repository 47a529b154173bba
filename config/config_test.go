package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestGetMissingFileUsesDefaults(t *testing.T) {
	unsetEnv(t, "API_URL")
	manager := NewConfFileManager(filepath.Join(t.TempDir(), "conf.json"))

	conf, err := manager.Get()
	assert.NilError(t, err)
	assert.DeepEqual(t, conf, GenDefaultConfig())
	assert.Equal(t, conf.RefreshInterval(), 5*time.Second)
	assert.Equal(t, conf.RequestTimeout(), 10*time.Second)
}

func TestWriteThenGet(t *testing.T) {
	unsetEnv(t, "API_URL")
	path := filepath.Join(t.TempDir(), "nested", "conf.json")
	manager := NewConfFileManager(path)

	conf := GenDefaultConfig()
	conf.BackendAddress = "http://10.0.0.5:9000"
	conf.RefreshIntervalMs = 2000
	conf.GPUSource = SOURCE_NVML
	assert.NilError(t, manager.Write(conf))

	read, err := manager.Get()
	assert.NilError(t, err)
	assert.DeepEqual(t, read, conf)
}

func TestEnvOverridesBackendAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	assert.NilError(t, os.WriteFile(path, []byte(`{"backend_address": "http://localhost:9000"}`), 0644))
	t.Setenv("API_URL", "http://gpu-box:9000")

	conf, err := NewConfFileManager(path).Get()
	assert.NilError(t, err)
	assert.Equal(t, conf.BackendAddress, "http://gpu-box:9000")
	assert.Equal(t, conf.RefreshIntervalMs, DEFAULT_REFRESH_INTERVAL_MS)
}

func TestValidateSources(t *testing.T) {
	conf := GenDefaultConfig()
	assert.NilError(t, conf.Validate())

	conf.GPUSource = "rocm-smi"
	assert.ErrorContains(t, conf.Validate(), "unknown gpu_source")

	conf = GenDefaultConfig()
	conf.SystemSource = "nvml"
	assert.ErrorContains(t, conf.Validate(), "unknown system_source")
}

// unsetEnv clears a variable for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Setenv(key, "")
	assert.NilError(t, os.Unsetenv(key))
}
