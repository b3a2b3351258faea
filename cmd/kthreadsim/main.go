// kthreadsim runs a scheduler scenario: a set of threads with scripted
// sleep patterns, driven by a wall-clock timer, with statistics printed at
// the end. Useful for eyeballing scheduling behavior and as a smoke test.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-kthread"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath   string
	timeSlice    int
	tickInterval time.Duration
	runFor       int64
	maxThreads   int
	mlfqs        bool
	verbose      bool
	quiet        bool
)

const version = "0.1.0-dev"

// scenario is the YAML scenario file layout.
type scenario struct {
	// TimeSlice overrides --time-slice when positive.
	TimeSlice int `yaml:"time_slice"`
	// RunFor overrides --run-for when positive.
	RunFor  int64            `yaml:"run_for"`
	Threads []threadScenario `yaml:"threads"`
}

// threadScenario scripts one thread: it performs each sleep in order,
// relative to the tick at which it starts the step, then exits.
type threadScenario struct {
	Name       string  `yaml:"name"`
	Priority   *int    `yaml:"priority"`
	SleepTicks []int64 `yaml:"sleep_ticks"`
	// Repeat replays the sleep list this many times (default 1).
	Repeat int `yaml:"repeat"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "kthreadsim [flags]",
		Short:   "preemptive thread scheduler simulator",
		Version: version,
		Long: `kthreadsim boots a round-robin preemptive scheduler, runs a scripted
set of threads against a wall-clock timer tick, and prints statistics.

Examples:
  # Run the built-in default scenario for 200 ticks
  kthreadsim --run-for 200

  # Run a scenario file with a 500us tick
  kthreadsim --config scenario.yml --tick-interval 500us
`,
		Args: cobra.NoArgs,
		RunE: runSimulation,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML scenario file (default: built-in scenario)")
	rootCmd.Flags().IntVar(&timeSlice, "time-slice", kthread.DefaultTimeSlice, "Ticks per thread time slice")
	rootCmd.Flags().DurationVar(&tickInterval, "tick-interval", time.Millisecond, "Wall-clock duration of one timer tick")
	rootCmd.Flags().Int64Var(&runFor, "run-for", 100, "Ticks to run before shutting down")
	rootCmd.Flags().IntVar(&maxThreads, "max-threads", 0, "Thread budget (0 = unlimited)")
	rootCmd.Flags().BoolVar(&mlfqs, "mlfqs", false, "Report the multi-level feedback queue policy flag")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress informational output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *logiface.Logger[logiface.Event] {
	level := stumpy.L.LevelInformational()
	if verbose {
		level = stumpy.L.LevelDebug()
	}
	if quiet {
		level = stumpy.L.LevelError()
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// defaultScenario is used when no --config is given: a mix of short and
// long sleepers that keeps the ready and sleep queues busy.
func defaultScenario() *scenario {
	pri := kthread.PriorityDefault
	return &scenario{
		Threads: []threadScenario{
			{Name: "short-sleeper", Priority: &pri, SleepTicks: []int64{3}, Repeat: 10},
			{Name: "long-sleeper", Priority: &pri, SleepTicks: []int64{25}, Repeat: 2},
			{Name: "mixed", Priority: &pri, SleepTicks: []int64{5, 1, 12}, Repeat: 3},
		},
	}
}

func loadScenario(path string) (*scenario, error) {
	if path == "" {
		return defaultScenario(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if len(sc.Threads) == 0 {
		return nil, fmt.Errorf("scenario %s declares no threads", path)
	}
	return &sc, nil
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	sc, err := loadScenario(configPath)
	if err != nil {
		return err
	}
	if sc.TimeSlice > 0 {
		timeSlice = sc.TimeSlice
	}
	if sc.RunFor > 0 {
		runFor = sc.RunFor
	}

	logger := newLogger()
	s, err := kthread.New(
		kthread.WithTimeSlice(timeSlice),
		kthread.WithMaxThreads(maxThreads),
		kthread.WithMLFQS(mlfqs),
		kthread.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	for _, ts := range sc.Threads {
		ts := ts
		pri := kthread.PriorityDefault
		if ts.Priority != nil {
			pri = *ts.Priority
		}
		repeat := ts.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		_, err := s.Create(ts.Name, pri, func(any) {
			for i := 0; i < repeat; i++ {
				for _, d := range ts.SleepTicks {
					s.Sleep(s.Ticks() + d)
				}
			}
			logger.Debug().Str("name", ts.Name).Int64("tick", s.Ticks()).Log("thread script complete")
		}, nil)
		if err != nil {
			return fmt.Errorf("create thread %q: %w", ts.Name, err)
		}
	}

	dev := s.StartTimer(tickInterval)
	s.Sleep(s.Ticks() + runFor)
	dev.Stop()

	s.LogStats()
	printSummary(cmd, s.Stats())
	return nil
}

func printSummary(cmd *cobra.Command, st kthread.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ticks:        %s\n", humanize.Comma(st.Ticks))
	fmt.Fprintf(out, "  idle:       %s\n", humanize.Comma(st.IdleTicks))
	fmt.Fprintf(out, "  kernel:     %s\n", humanize.Comma(st.KernelTicks))
	fmt.Fprintf(out, "  user:       %s\n", humanize.Comma(st.UserTicks))
	fmt.Fprintf(out, "threads:      %s\n", humanize.Comma(int64(st.TotalThreads)))
	fmt.Fprintf(out, "  ready:      %s\n", humanize.Comma(int64(st.ReadyThreads)))
	fmt.Fprintf(out, "  sleeping:   %s\n", humanize.Comma(int64(st.SleepingThreads)))
}
