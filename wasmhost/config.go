package wasmhost

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/otelwasm/wasmhost/runtime"
)

// validate is shared; building a validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

const (
	// DefaultMaxCallDepth bounds guest→host→guest re-entrancy per context.
	DefaultMaxCallDepth = 64

	// RuntimeModeInterpreter and RuntimeModeCompiled select how wazero runs code.
	RuntimeModeInterpreter = runtime.ModeInterpreter
	RuntimeModeCompiled    = runtime.ModeCompiled
)

// RuntimeConfig is the configuration for the WASM runtime.
type RuntimeConfig struct {
	// Type is the registered runtime name. Empty selects wazero.
	Type string `mapstructure:"type" json:"type,omitempty" validate:"omitempty,oneof=wazero wasmtime" jsonschema:"enum=wazero,enum=wasmtime"`

	// Mode selects interpreter or compiled execution.
	Mode runtime.Mode `mapstructure:"mode" json:"mode,omitempty" validate:"omitempty,oneof=interpreter compiled" jsonschema:"enum=interpreter,enum=compiled"`

	// CacheDir enables an on-disk compilation cache.
	CacheDir string `mapstructure:"cache_dir" json:"cache_dir,omitempty"`
}

// Default sets default values for unset fields
func (cfg *RuntimeConfig) Default() {
	if cfg.Type == "" {
		cfg.Type = runtime.TypeWazero
	}
	if cfg.Mode == "" {
		cfg.Mode = RuntimeModeInterpreter
	}
}

// Validate validates the runtime configuration
func (cfg *RuntimeConfig) Validate() error {
	return validateStruct(cfg)
}

func (cfg RuntimeConfig) runtimeConfig() runtime.Config {
	return runtime.Config{Mode: cfg.Mode, CacheDir: cfg.CacheDir}
}

// WasiConfig configures the WASI instance of every execution context.
type WasiConfig struct {
	Args []string `mapstructure:"args" json:"args,omitempty"`

	// Env is added to the guest environment.
	Env map[string]string `mapstructure:"env" json:"env,omitempty"`

	// InheritEnv passes the host environment to the guest.
	InheritEnv bool `mapstructure:"inherit_env" json:"inherit_env,omitempty"`
}

// Environ returns the guest environment as KEY=value pairs, sorted by key,
// with Env overriding inherited variables.
func (cfg WasiConfig) Environ() []string {
	vars := map[string]string{}
	if cfg.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				vars[k] = v
			}
		}
	}
	for k, v := range cfg.Env {
		vars[k] = v
	}

	environ := make([]string, 0, len(vars))
	for k, v := range vars {
		environ = append(environ, k+"="+v)
	}
	sort.Strings(environ)
	return environ
}

// LogConfig configures the logger built by the command line tool.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level,omitempty" validate:"omitempty,oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `mapstructure:"format" json:"format,omitempty" validate:"omitempty,oneof=auto console json" jsonschema:"enum=auto,enum=console,enum=json"`
}

// Config defines the configuration of a host
type Config struct {
	// Path to the WASM module file
	Path string `mapstructure:"path" json:"path,omitempty"`

	// Workspace is the host directory pre-opened for the guest.
	Workspace string `mapstructure:"workspace" json:"workspace,omitempty"`

	// GuestWorkspace is the path under which the guest sees Workspace.
	// Empty means the host path.
	GuestWorkspace string `mapstructure:"guest_workspace" json:"guest_workspace,omitempty"`

	// Production links host imports without a callback to a trapping stub
	// instead of failing.
	Production bool `mapstructure:"production" json:"production,omitempty"`

	// MaxCallDepth bounds nested calls into the guest per context.
	MaxCallDepth int `mapstructure:"max_call_depth" json:"max_call_depth,omitempty" validate:"gte=0,lte=100000"`

	Wasi WasiConfig `mapstructure:"wasi" json:"wasi,omitempty"`

	// Runtime is the configuration of the WASM runtime.
	RuntimeConfig RuntimeConfig `mapstructure:"runtime" json:"runtime,omitempty"`

	Log LogConfig `mapstructure:"log" json:"log,omitempty"`
}

// Default sets default values for unset fields
func (cfg *Config) Default() {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.MaxCallDepth == 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
	cfg.RuntimeConfig.Default()
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if err := validateStruct(cfg); err != nil {
		return err
	}
	if cfg.GuestWorkspace != "" && !strings.HasPrefix(cfg.GuestWorkspace, "/") {
		return fmt.Errorf("guest_workspace %q must be absolute: %w", cfg.GuestWorkspace, runtime.ErrInvalidConfiguration)
	}
	return nil
}

// validateStruct runs the struct tags of v and reports every failing field
// in one error wrapping runtime.ErrInvalidConfiguration.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %v: %w", err, runtime.ErrInvalidConfiguration)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		} else {
			msgs[i] = fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
		}
	}
	return fmt.Errorf("config validation failed: %s: %w", strings.Join(msgs, "; "), runtime.ErrInvalidConfiguration)
}
