package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jawbreaker1/pabench/internal/bench"
)

const version = "dev"

// exitError carries an exit status without a message.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// usageError marks bad flags or arguments (exit status 2).
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type globalFlags struct {
	configFile string
	envFile    string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "pabench: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) || errors.Is(err, bench.ErrUsage) {
		return 2
	}
	return 1
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "pabench",
		Short:         "Benchmark pairwise aligners over experiment files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default pabench.yaml if present)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "env file with PABENCH_* variables (default .env if present)")

	root.AddCommand(newBenchCmd(g, stderr))
	root.AddCommand(newRunCmd(g, stderr))
	return root
}
