package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/otelwasm/wasmhost/wasmhost"
)

// options holds the persistent flags. Flags override the config file and
// the environment only when set.
type options struct {
	configPath  string
	workspace   string
	runtimeType string
	mode        string
	logLevel    string
	production  bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "wasmhost",
		Short:         "Run WebAssembly modules against a sandboxed workspace",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&opts.workspace, "workspace", "w", "", "host directory pre-opened for the guest (default \".\")")
	flags.StringVar(&opts.runtimeType, "runtime", "", "runtime backend: wazero or wasmtime")
	flags.StringVar(&opts.mode, "mode", "", "execution mode: interpreter or compiled")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.production, "production", false, "link host imports without a callback to a trapping stub")

	cmd.AddCommand(
		newRunCommand(opts),
		newExportsCommand(opts),
		newSchemaCommand(),
	)
	return cmd
}

// setup loads the configuration and installs the logger it describes.
func setup(cmd *cobra.Command, opts *options) (wasmhost.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return cfg, nil, err
	}
	wasmhost.SetLogger(logger)
	return cfg, logger, nil
}
