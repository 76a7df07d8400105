package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/executor"
	"github.com/wippyai/wasm-executor/hostenv"
	"github.com/wippyai/wasm-executor/internal/samples"
	"github.com/wippyai/wasm-executor/runtime"
)

func newCallCmd(a *app) *cobra.Command {
	var (
		witPath string
		start   []string
	)
	cmd := &cobra.Command{
		Use:   "call <file.wasm> <func> [args...]",
		Short: "Instantiate a module and call one exported function",
		Long: `Instantiate a module and call one exported function.

Arguments are parsed by the function's parameter types. A literal may carry
its type explicitly, e.g. i64:-1 or f32:0.5. With --wit, WIT function
declarations refine parsing and printing, e.g. "add: func(a: u32, b: u32) -> u32;".`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var hints *runtime.Hints
			if witPath != "" {
				text, err := os.ReadFile(witPath)
				if err != nil {
					return errors.New(errors.PhaseParse, errors.KindIO).Path(witPath).Cause(err).Build()
				}
				if hints, err = runtime.ParseHints(string(text)); err != nil {
					return err
				}
			}

			mod, err := a.rt.Load(ctx, args[0])
			if err != nil {
				return err
			}
			defer mod.Close(ctx)

			inst, err := mod.Instantiate(ctx,
				runtime.WithName(filepath.Base(args[0])),
				runtime.WithStartFunctions(start...),
				runtime.WithStdout(a.out),
				runtime.WithStderr(a.errOut),
			)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			fn, err := inst.Func(args[1])
			if err != nil {
				return err
			}
			callArgs, err := fn.ParseArgs(hints, args[2:]...)
			if err != nil {
				return err
			}
			results, err := fn.Call(ctx, callArgs...)
			if err != nil {
				return err
			}
			for _, r := range fn.FormatResults(hints, results) {
				fmt.Fprintln(a.out, r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&witPath, "wit", "", "file with WIT function declarations used as type hints")
	cmd.Flags().StringSliceVar(&start, "start", nil, "exported functions to run after instantiation, e.g. _start")
	return cmd
}

func newExportsCmd(a *app) *cobra.Command {
	var imports bool
	cmd := &cobra.Command{
		Use:   "exports <file.wasm>",
		Short: "List a module's exports in declaration order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mod, err := a.rt.Load(ctx, args[0])
			if err != nil {
				return err
			}
			defer mod.Close(ctx)

			t := newTable("EXPORT", "KIND", "SIGNATURE")
			for _, e := range mod.Exports() {
				t.Row(e.Name, e.Kind.String(), signatureText(e.Kind, e.Signature.String()))
			}
			fmt.Fprintln(a.out, t.Render())

			if imports {
				t := newTable("MODULE", "IMPORT", "KIND", "SIGNATURE")
				for _, im := range mod.Imports() {
					t.Row(im.Module, im.Name, im.Kind.String(), signatureText(im.Kind, im.Signature.String()))
				}
				fmt.Fprintln(a.out, t.Render())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&imports, "imports", false, "also list imports")
	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(helpStyle).
		Headers(headers...)
}

func signatureText(kind runtime.ExternKind, sig string) string {
	if kind != runtime.KindFunc {
		return "-"
	}
	return sig
}

func newExecCmd(a *app) *cobra.Command {
	var (
		val    uint32
		vec    []int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "exec <code>...",
		Short: "Run guest codes in order against the shared state",
		Long: `Run guest codes from the code directory in order. Each code's entry
function runs against the state left by the previous successful run. The
first failure stops the sequence and leaves the state as it was.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := a.cfg.State.Clone()
			if cmd.Flags().Changed("val") {
				state.Val = val
			}
			if cmd.Flags().Changed("vec") {
				b, err := toBytes(vec)
				if err != nil {
					return err
				}
				state.Vec = b
			}

			ex := a.executor(state)
			for _, name := range args {
				next, err := ex.Execute(cmd.Context(), name)
				if err != nil {
					return err
				}
				if !asJSON {
					fmt.Fprintf(a.out, "%s: %s\n", name, next)
				}
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(stateJSON(ex.State()))
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&val, "val", 0, "initial scalar state")
	cmd.Flags().IntSliceVar(&vec, "vec", nil, "initial vector state, comma separated bytes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final state as JSON")
	return cmd
}

// stateJSON keeps the vector readable; encoding/json would base64 a []byte.
func stateJSON(s hostenv.State) map[string]any {
	vec := make([]int, len(s.Vec))
	for i, b := range s.Vec {
		vec[i] = int(b)
	}
	return map[string]any{"val": s.Val, "vec": vec}
}

func toBytes(vals []int) ([]byte, error) {
	out := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path("vec").
				Value(v).
				Detail("vector element %d out of byte range", i).
				Build()
		}
		out[i] = byte(v)
	}
	return out, nil
}

func (a *app) executor(state hostenv.State) *executor.Executor {
	return executor.New(a.rt, executor.Config{
		Dir:     a.cfg.CodesDir,
		Entry:   a.cfg.Entry,
		Initial: state,
	})
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List guest codes in the code directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.executor(a.cfg.State).List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(a.out, name)
			}
			return nil
		},
	}
}

func newSamplesCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "Write the built-in sample codes into the code directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := a.cfg.CodesDir
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.New(errors.PhaseExecute, errors.KindIO).Path(dir).Cause(err).Build()
			}

			all := samples.All()
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)

			var written []string
			for _, name := range names {
				path := filepath.Join(dir, name)
				if _, err := os.Stat(path); err == nil && !force {
					continue
				}
				if err := os.WriteFile(path, all[name], 0o644); err != nil {
					return errors.New(errors.PhaseExecute, errors.KindIO).Path(path).Cause(err).Build()
				}
				written = append(written, name)
			}
			if len(written) == 0 {
				fmt.Fprintf(a.out, "%s: samples already present\n", dir)
				return nil
			}
			fmt.Fprintf(a.out, "%s: wrote %s\n", dir, strings.Join(written, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
