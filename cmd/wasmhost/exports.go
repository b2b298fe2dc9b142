package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otelwasm/wasmhost/runtime"
	"github.com/otelwasm/wasmhost/wasmhost"
)

func newExportsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "exports <module.wasm>",
		Short: "List a module's exports in declaration order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			binary, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			engine, err := wasmhost.NewEngine(cfg)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			m, err := engine.Compile(ctx, binary)
			if err != nil {
				return err
			}
			defer m.Close(ctx)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "INDEX\tNAME\tKIND\tSIGNATURE\n")
			for i, e := range m.Exports() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, e.Name, e.Kind, signatureString(e))
			}
			fmt.Fprintf(w, "\nmodule kind: %s\n", m.Kind())
			return w.Flush()
		},
	}
}

func signatureString(e runtime.ExportType) string {
	if e.Kind != runtime.ExternFunc {
		return "-"
	}
	return "(" + kindList(e.Params) + ") -> (" + kindList(e.Results) + ")"
}

func kindList(kinds []runtime.ValueKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}
