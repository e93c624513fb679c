// Command coyote-test drives controlled-concurrency test iterations and
// inspects recorded traces from the command line. It is intentionally thin:
// systematic tests themselves are written in Go against package coyote and
// compiled into whatever binary embeds them (spec.md §1 Non-goals "no test
// discovery/build-system integration"); this tool runs a few built-in demo
// tests and covers trace validation, DOT rendering and report merging, the
// pieces that operate on trace or report JSON alone.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/coyote/internal/coyote"
	"github.com/orizon-lang/coyote/internal/coyote/demo"
	"github.com/orizon-lang/coyote/internal/coyote/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "coyote-test",
		Short: "Run, inspect, and replay controlled-concurrency testing traces",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newDotCmd())
	root.AddCommand(newMergeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var name string
	var iterations int
	var strategyName string
	var seed int64
	var tracePath, reportPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one of the built-in demo tests for a number of iterations",
		Long: "run drives a built-in systematic test (see --list) under the chosen\n" +
			"strategy and reports any finding. Embedding a test function built against\n" +
			"package coyote directly and calling coyote.RunTest is the path for a real\n" +
			"test suite; this subcommand exists so the engine is reachable end-to-end\n" +
			"from the command line without one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fn := demo.Lookup(name)
			if fn == nil {
				return fmt.Errorf("unknown demo %q; available: %s", name, strings.Join(demo.Names, ", "))
			}

			cfg := coyote.NewConfig(
				coyote.WithStrategy(coyote.StrategyKind(strategyName)),
				coyote.WithSeed(seed),
				coyote.WithIterations(iterations),
			)

			tel := telemetry.New("coyote-test-run")
			report := coyote.RunTest(name, fn, cfg, tel)

			fmt.Printf("ran %d iteration(s) of %q\n", report.IterationsRun, name)
			if len(report.BugMessages) == 0 {
				fmt.Println("no bug found")
			}
			for msg := range report.BugMessages {
				fmt.Printf("bug: %s\n", msg)
			}

			if reportPath != "" {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(reportPath, out, 0o644); err != nil {
					return err
				}
			}

			if tracePath != "" {
				for _, entry := range report.Notebook {
					trace, ok := report.BugTraces[entry.BugMessage]
					if entry.BugMessage == "" || !ok {
						continue
					}
					data, err := trace.Marshal(name, cfg, "")
					if err != nil {
						return err
					}
					if err := os.WriteFile(tracePath, data, 0o644); err != nil {
						return err
					}
					fmt.Printf("wrote trace for %q to %s\n", entry.BugMessage, tracePath)
					break
				}
			}

			return nil
		},
	}
	cmd.Flags().StringVar(&name, "demo", "racy-flag", "demo to run: "+strings.Join(demo.Names, ", "))
	cmd.Flags().IntVar(&iterations, "iterations", 100, "testing iterations")
	cmd.Flags().StringVar(&strategyName, "strategy", string(coyote.StrategyRandom), "exploration strategy")
	cmd.Flags().Int64Var(&seed, "seed", 0, "base random seed")
	cmd.Flags().StringVar(&tracePath, "trace-out", "", "write the first bug's trace JSON here, if any")
	cmd.Flags().StringVar(&reportPath, "report-out", "", "write the full TestReport JSON here")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var tracePath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Validate that a recorded trace still reproduces (schedule shape only)",
		Long: "replay parses a trace file and reports whether its recorded Settings and\n" +
			"Steps are well-formed and internally consistent. It does not re-run the\n" +
			"originating test binary, since coyote-test has no way to locate or build\n" +
			"it; embed coyote.ReplayTrace in the test binary itself to actually replay\n" +
			"against the test function.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(tracePath)
			if err != nil {
				return err
			}
			tj, err := coyote.ParseTraceJSON(data)
			if err != nil {
				return err
			}
			if _, err := tj.ToHistory(); err != nil {
				return err
			}
			fmt.Printf("trace %q: %d operations, %d steps, strategy=%s\n",
				tj.TestName, len(tj.Operations), len(tj.Steps), tj.Settings.Strategy)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tracePath, "trace", "t", "", "path to a trace JSON file")
	cmd.MarkFlagRequired("trace")
	return cmd
}

func newDotCmd() *cobra.Command {
	var tracePath, graphName string

	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Render a trace file as a Graphviz DOT graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(tracePath)
			if err != nil {
				return err
			}
			tj, err := coyote.ParseTraceJSON(data)
			if err != nil {
				return err
			}

			trace, err := coyote.TraceFromJSON(tj)
			if err != nil {
				return err
			}

			name := graphName
			if name == "" {
				name = tj.TestName
			}
			fmt.Print(trace.ToDOT(name))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tracePath, "trace", "t", "", "path to a trace JSON file")
	cmd.Flags().StringVar(&graphName, "name", "", "graph name (defaults to the test name)")
	cmd.MarkFlagRequired("trace")
	return cmd
}

func newMergeCmd() *cobra.Command {
	var outPath string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge multiple TestReport JSON files into one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return fmt.Errorf("at least one --report is required")
			}

			var merged *coyote.TestReport
			for _, path := range inputs {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				var r coyote.TestReport
				if err := json.Unmarshal(data, &r); err != nil {
					return fmt.Errorf("parsing %s: %w", path, err)
				}
				if merged == nil {
					merged = &r
					continue
				}
				m, err := merged.Merge(&r)
				if err != nil {
					return err
				}
				merged = m
			}

			out, err := json.MarshalIndent(merged, "", "  ")
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Println(string(out))
				return nil
			}
			return os.WriteFile(outPath, out, 0o644)
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "report", nil, "path to a TestReport JSON file (repeatable)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: stdout)")
	return cmd
}
