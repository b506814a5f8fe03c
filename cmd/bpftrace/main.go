// ----------------------------------------------------------------------------
// FILE: cmd/bpftrace/main.go
// ----------------------------------------------------------------------------
// PACKAGE: main
// PURPOSE: The `bpftrace [-d] [-e <script>] [<file>]` CLI, wired with
//          github.com/spf13/cobra (+ its pflag dependency) as a single
//          flag-aware root command rather than a raw os.Args check.
// ----------------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"bpftrace/analyzer"
	"bpftrace/codegen"
	"bpftrace/lexer"
	"bpftrace/parser"
	"bpftrace/printer"
	"bpftrace/runtime"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dump bool
	var expr string

	cmd := &cobra.Command{
		Use:           "bpftrace [flags] [file]",
		Short:         "A high-level tracing language for Linux",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := scriptSource(expr, args)
			if err != nil {
				return err
			}
			return run(src, dump)
		},
	}
	cmd.Flags().BoolVarP(&dump, "dump", "d", false, "print the AST and lowered IR, then exit before probe loading")
	cmd.Flags().StringVarP(&expr, "expr", "e", "", "script text, in place of a file argument")
	return cmd
}

// scriptSource enforces the "exactly one of -e or a positional file
// argument" rule.
func scriptSource(expr string, args []string) (string, error) {
	switch {
	case expr != "" && len(args) > 0:
		return "", fmt.Errorf("specify either -e or a script file, not both")
	case expr != "":
		return expr, nil
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", args[0], err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("specify either -e <script> or a script file")
	}
}

func run(src string, dump bool) error {
	log := hclog.New(&hclog.LoggerOptions{Name: "bpftrace", Level: hclog.Info})

	prog, err := parser.New(lexer.New(src)).ParseProgram()
	if err != nil {
		return err
	}

	an := analyzer.New()
	if err := an.Analyze(prog); err != nil {
		return err
	}

	lowered, err := codegen.Generate(prog, an)
	if err != nil {
		return err
	}

	if dump {
		fmt.Println(printer.Print(prog))
		fmt.Print(codegen.Render(lowered))
		return nil
	}

	ctx, cancel := runtime.WatchSignals(context.Background())
	defer cancel()
	return runtime.Run(ctx, log, prog.Probes, lowered, os.Stdout)
}
