package wasmhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelwasm/wasmhost/runtime"
)

func TestRuntimeConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  RuntimeConfig
		wantErr bool
	}{
		{
			name: "valid interpreter mode",
			config: RuntimeConfig{
				Mode: RuntimeModeInterpreter,
			},
			wantErr: false,
		},
		{
			name: "valid compiled mode",
			config: RuntimeConfig{
				Mode: RuntimeModeCompiled,
			},
			wantErr: false,
		},
		{
			name: "invalid mode",
			config: RuntimeConfig{
				Mode: "invalid",
			},
			wantErr: true,
		},
		{
			name: "wasmtime type",
			config: RuntimeConfig{
				Type: runtime.TypeWasmtime,
			},
			wantErr: false,
		},
		{
			name: "unknown type",
			config: RuntimeConfig{
				Type: "wasmer",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, runtime.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRuntimeConfigDefault(t *testing.T) {
	tests := []struct {
		name           string
		config         RuntimeConfig
		expectedConfig RuntimeConfig
	}{
		{
			name:           "empty",
			config:         RuntimeConfig{},
			expectedConfig: RuntimeConfig{Type: runtime.TypeWazero, Mode: RuntimeModeInterpreter},
		},
		{
			name:           "compiled mode",
			config:         RuntimeConfig{Mode: RuntimeModeCompiled},
			expectedConfig: RuntimeConfig{Type: runtime.TypeWazero, Mode: RuntimeModeCompiled},
		},
		{
			name:           "wasmtime keeps its type",
			config:         RuntimeConfig{Type: runtime.TypeWasmtime, CacheDir: "/tmp/cache"},
			expectedConfig: RuntimeConfig{Type: runtime.TypeWasmtime, Mode: RuntimeModeInterpreter, CacheDir: "/tmp/cache"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Default()
			assert.Equal(t, tt.expectedConfig, tt.config)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "defaults",
			config:  Config{},
			wantErr: false,
		},
		{
			name: "absolute guest workspace",
			config: Config{
				GuestWorkspace: "/work",
			},
			wantErr: false,
		},
		{
			name: "relative guest workspace",
			config: Config{
				GuestWorkspace: "work",
			},
			wantErr: true,
		},
		{
			name: "negative call depth",
			config: Config{
				MaxCallDepth: -1,
			},
			wantErr: true,
		},
		{
			name: "invalid runtime mode",
			config: Config{
				RuntimeConfig: RuntimeConfig{Mode: "jit"},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: Config{
				Log: LogConfig{Level: "trace"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, runtime.ErrInvalidConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfigDefault(t *testing.T) {
	var cfg Config
	cfg.Default()

	assert.Equal(t, ".", cfg.Workspace)
	assert.Equal(t, DefaultMaxCallDepth, cfg.MaxCallDepth)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)
	assert.Equal(t, runtime.TypeWazero, cfg.RuntimeConfig.Type)
	assert.Equal(t, RuntimeModeInterpreter, cfg.RuntimeConfig.Mode)

	cfg = Config{Workspace: "/data", MaxCallDepth: 3}
	cfg.Default()
	assert.Equal(t, "/data", cfg.Workspace)
	assert.Equal(t, 3, cfg.MaxCallDepth)
}

func TestWasiConfigEnviron(t *testing.T) {
	t.Setenv("WASMHOST_TEST_INHERITED", "host")

	cfg := WasiConfig{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, cfg.Environ())

	cfg.InheritEnv = true
	cfg.Env["WASMHOST_TEST_INHERITED"] = "guest"
	env := cfg.Environ()
	assert.Contains(t, env, "WASMHOST_TEST_INHERITED=guest")
	assert.NotContains(t, env, "WASMHOST_TEST_INHERITED=host")
}
