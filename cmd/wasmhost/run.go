package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/otelwasm/wasmhost/wasmhost"
)

func newRunCommand(opts *options) *cobra.Command {
	var (
		guestArgs []string
		guestEnv  []string
	)
	cmd := &cobra.Command{
		Use:   "run <module.wasm> <export> [args...]",
		Short: "Call an exported function and print its results",
		Long: `Instantiates the module with the built-in host imports, initializes
reactors, then calls export with args parsed according to its parameter types.
References are given as integers or "null".`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.Path = args[0]

			var extra []wasmhost.Option
			if cmd.Flags().Changed("arg") {
				extra = append(extra, wasmhost.WithArgs(guestArgs...))
			}
			if len(guestEnv) > 0 {
				extra = append(extra, wasmhost.WithEnviron(append(cfg.Wasi.Environ(), guestEnv...)...))
			}
			extra = append(extra, wasmhost.WithLogger(logger.Named("guest")))

			ctx := cmd.Context()
			h, err := wasmhost.Load(ctx, cfg, nil, extra...)
			if err != nil {
				return err
			}
			defer func() {
				if err := h.Close(ctx); err != nil {
					logger.Warn("closing host", zap.Error(err))
				}
			}()

			sig, err := h.Module.ExportSignature(args[1])
			if err != nil {
				return err
			}
			values, err := wasmhost.ParseValues(sig.Params(), args[2:])
			if err != nil {
				return err
			}
			results, err := sig.Call(ctx, h.Context, values...)
			if err != nil {
				return err
			}
			for _, v := range results {
				fmt.Fprintln(cmd.OutOrStdout(), wasmhost.FormatValue(v))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&guestArgs, "arg", nil, "guest command line argument (repeatable)")
	cmd.Flags().StringArrayVarP(&guestEnv, "env", "e", nil, "guest environment variable KEY=value (repeatable)")
	return cmd
}
