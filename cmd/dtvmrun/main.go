// Command dtvmrun is the engine's CLI front-end (spec.md §6 "CLI,
// non-core collaborator"): it reads a .wasm file, instantiates it, calls one
// exported function, and reports the result or trap. It is a thin shell
// around the dtvm/api packages — every flag is a one-line call into the
// core, following the teacher's own `cmd/wazero` split of CLI concerns from
// the engine (here, open-policy-agent/opa's cmd.RootCommand +
// spf13/cobra/spf13/pflag split is the closer match, since the teacher pack
// ships no standalone CLI of its own).
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dtvmgo/dtvm"
)

type runFlags struct {
	funcName string
	args     []string
	gasLimit uint64
	logLevel string
	mode     string
}

func main() {
	flags := &runFlags{}

	root := &cobra.Command{
		Use:   "dtvmrun WASM_FILE",
		Short: "Run an exported function from a WebAssembly module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			return run(cmdArgs[0], flags, cmd.OutOrStdout())
		},
	}

	// root.Flags() is a *pflag.FlagSet; cobra wraps pflag rather than the
	// standard library's flag package, matching moby/moby and
	// open-policy-agent/opa's CLI stack.
	var flagSet *pflag.FlagSet = root.Flags()
	flagSet.StringVarP(&flags.funcName, "func", "f", "_start", "exported function to invoke")
	flagSet.StringSliceVar(&flags.args, "args", nil, "comma-separated integer arguments, passed as Wasm cells")
	flagSet.Uint64Var(&flags.gasLimit, "gas-limit", 0, "gas budget; 0 means unmetered")
	flagSet.StringVar(&flags.logLevel, "log-level", "warn", "logrus level: debug, info, warn, error")
	flagSet.StringVar(&flags.mode, "mode", string(dtvm.ModeInterpreter), "execution back-end (only \"interp\" is implemented)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// run wires one dtvmrun invocation through the embedder API: Runtime →
// LoadModule → Isolation → Instantiate → Call (spec.md §6's conceptual
// pseudocode).
func run(wasmFile string, flags *runFlags, out io.Writer) error {
	level, err := logrus.ParseLevel(flags.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", flags.logLevel, err)
	}
	logger := logrus.New()
	logger.SetLevel(level)

	config := dtvm.NewRuntimeConfig().WithMode(dtvm.Mode(flags.mode)).WithLogger(logger)
	rt, err := dtvm.NewRuntime(config)
	if err != nil {
		return err
	}

	binary, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", wasmFile, err)
	}

	module, err := rt.LoadModule(binary, wasmFile)
	if err != nil {
		return err
	}

	args, err := parseArgs(flags.args)
	if err != nil {
		return err
	}

	iso := rt.NewIsolation()
	inst, err := iso.Instantiate(module, flags.gasLimit)
	if err != nil {
		return err
	}

	results, callErr := inst.Call(flags.funcName, args...)
	if callErr != nil {
		if code, ok := inst.ExitCode(); ok {
			return &exitError{code: code}
		}
		return callErr
	}

	cells := make([]string, len(results))
	for i, r := range results {
		cells[i] = strconv.FormatUint(r, 10)
	}
	fmt.Fprintln(out, strings.Join(cells, " "))
	return nil
}

func parseArgs(raw []string) ([]uint64, error) {
	args := make([]uint64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--args: %q is not an integer: %w", s, err)
		}
		args[i] = uint64(v)
	}
	return args, nil
}

// exitError carries a module's own _exit code (spec.md §6 "or the
// Wasm-invoked _exit code on InstanceExit").
type exitError struct{ code int32 }

func (e *exitError) Error() string { return fmt.Sprintf("instance exited with code %d", e.code) }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitError); ok {
		return int(ee.code)
	}
	return 1
}
