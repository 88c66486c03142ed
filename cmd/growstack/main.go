package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/epilogue"
	"github.com/raymyers/growstack/pkg/funcdef"
	"github.com/raymyers/growstack/pkg/growstacks"
	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/reducer"
)

var version = "0.1.0"

// Debug flags for dumping graphs and descriptors
var (
	dGraph   bool
	dLowered bool
	dDesc    bool
)

// Pipeline options
var (
	targetArch   = archValue{target: arch.AMD64}
	withEpilogue bool
	runFrames    bool
	jobs         int
	verbose      bool
)

// archValue is the --arch flag
type archValue struct {
	target *arch.Target
}

var _ pflag.Value = (*archValue)(nil)

func (v *archValue) String() string {
	return v.target.Name
}

func (v *archValue) Set(s string) error {
	t, ok := arch.Lookup(s)
	if !ok {
		return fmt.Errorf("unknown architecture %q (want one of %s)", s, strings.Join(arch.Names(), ", "))
	}
	v.target = t
	return nil
}

func (v *archValue) Type() string {
	return "arch"
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the debug flags that also accept a single dash
var debugFlagNames = []string{"dgraph", "dlowered", "ddesc"}

// normalizeFlags converts single-dash debug flags like -dlowered to --dlowered
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = arg
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	targetArch = archValue{target: arch.AMD64}

	rootCmd := &cobra.Command{
		Use:   "growstack [flags] file.yaml...",
		Short: "growstack lowers function returns for segmented, growable stacks",
		Long: `growstack builds instruction graphs from YAML function definitions
and runs the growable-stacks return lowering over them. Returns that
place values in the caller's frame are rewritten to check the frame
marker and store through the caller's frame pointer when the frame
starts a new stack segment.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			if jobs < 1 {
				fmt.Fprintf(errOut, "growstack: --jobs must be at least 1, got %d\n", jobs)
				return fmt.Errorf("invalid --jobs %d", jobs)
			}
			return compileFiles(args, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVarP(&dGraph, "dgraph", "", false, "Dump the input graph")
	rootCmd.Flags().BoolVarP(&dLowered, "dlowered", "", false, "Dump the lowered graph (default when no other output is selected)")
	rootCmd.Flags().BoolVarP(&dDesc, "ddesc", "", false, "Dump call descriptors")

	rootCmd.Flags().Var(&targetArch, "arch", "Target architecture ("+strings.Join(arch.Names(), ", ")+")")
	rootCmd.Flags().BoolVar(&withEpilogue, "epilogue", false, "Run the default epilogue stage after the lowering")
	rootCmd.Flags().BoolVar(&runFrames, "run", false, "Execute each lowered function in an ordinary and a segment-start frame")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "Number of functions compiled concurrently")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print lowering statistics")

	return rootCmd
}

// job is the compilation of one function
type job struct {
	fn     *funcdef.Function
	out    bytes.Buffer
	stats  growstacks.Stats
	failed error
}

// compileFiles loads every file, compiles the functions concurrently and
// prints their output in definition order.
func compileFiles(filenames []string, out, errOut io.Writer) error {
	var work []*job
	for _, filename := range filenames {
		file, err := funcdef.Load(filename)
		if err != nil {
			fmt.Fprintf(errOut, "growstack: %v\n", err)
			return err
		}
		for i := range file.Functions {
			work = append(work, &job{fn: &file.Functions[i]})
		}
	}

	var g errgroup.Group
	g.SetLimit(jobs)
	for _, j := range work {
		j := j
		g.Go(func() error {
			j.failed = compileFunction(j.fn, targetArch.target, &j.out, &j.stats)
			return j.failed
		})
	}
	err := g.Wait()

	for _, j := range work {
		out.Write(j.out.Bytes())
		if j.failed != nil {
			fmt.Fprintf(errOut, "growstack: %s: %v\n", j.fn.Name, j.failed)
			continue
		}
		if verbose {
			fmt.Fprintf(errOut, "growstack: %s: %d returns, %d lowered, %d stores\n",
				j.fn.Name, j.stats.Returns, j.stats.Lowered, j.stats.Stores)
		}
	}
	return err
}

// compileFunction builds, lowers and optionally runs one function
func compileFunction(fn *funcdef.Function, target *arch.Target, w io.Writer, stats *growstacks.Stats) error {
	g, err := funcdef.Build(fn, target)
	if err != nil {
		return err
	}
	desc := linkage.ForTarget(g.Sig, target)

	if dDesc {
		linkage.NewPrinter(w).PrintDescriptor(fn.Name, desc)
	}
	if dGraph {
		ir.NewPrinter(w).PrintGraph(g)
	}

	stages := []reducer.Factory{growstacks.New(desc, stats)}
	if withEpilogue {
		stages = append(stages, epilogue.New(desc))
	}
	lowered := reducer.Run(g, stages...)
	if err := ir.Verify(lowered); err != nil {
		return err
	}

	if dLowered || !(dGraph || dDesc || runFrames) {
		ir.NewPrinter(w).PrintGraph(lowered)
	}
	if runFrames {
		return runBothFrames(lowered, desc, w)
	}
	return nil
}

func hexValues(values []uint64) string {
	return strings.Join(lo.Map(values, func(v uint64, _ int) string { return fmt.Sprintf("%#x", v) }), ", ")
}
