package main

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/otelwasm/wasmhost/runtime"
	"github.com/otelwasm/wasmhost/wasmhost"
)

// envPrefix selects the environment variables read as configuration.
// Nested keys are joined with a double underscore, as in
// WASMHOST_RUNTIME__CACHE_DIR.
const envPrefix = "WASMHOST_"

// loadConfig merges the config file, the environment and the flags, in
// increasing order of precedence, then applies defaults and validates.
func loadConfig(cmd *cobra.Command, opts *options) (wasmhost.Config, error) {
	var cfg wasmhost.Config
	k := koanf.New(".")

	if opts.configPath != "" {
		if err := k.Load(file.Provider(opts.configPath), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("loading config %s: %w", opts.configPath, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("loading environment: %w", err)
	}

	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
			TagName:          "mapstructure",
		},
	})
	if err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	applyFlags(cmd, opts, &cfg)
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *wasmhost.Config) {
	changed := func(name string) bool {
		return cmd.Flags().Changed(name) || cmd.PersistentFlags().Changed(name)
	}
	if changed("workspace") {
		cfg.Workspace = opts.workspace
	}
	if changed("runtime") {
		cfg.RuntimeConfig.Type = opts.runtimeType
	}
	if changed("mode") {
		cfg.RuntimeConfig.Mode = runtime.Mode(opts.mode)
	}
	if changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if changed("production") {
		cfg.Production = opts.production
	}
}
