package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tapworks/tapestry/packages/core/config"
	"github.com/tapworks/tapestry/packages/db"
	"github.com/tapworks/tapestry/packages/metrics"
	"github.com/tapworks/tapestry/packages/output"
	"github.com/tapworks/tapestry/packages/tap"
)

var runCmd = &cobra.Command{
	Use:   "run <command> [command...]",
	Short: "Run TAP-producing test binaries",
	Long: `Run one or more commands, treating each command's stdout as a TAP
version 13 document.

Examples:
  tapestry run ./bin/api.test
  tapestry run ./bin/api.test ./bin/worker.test --parallel
  tapestry run "go run ./cmd/suite" --output json
  tapestry run ./bin/api.test --watch --watch-dir ./internal
  tapestry run ./bin/*.test --record`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond

	// DefaultConcurrency is the default number of concurrent files in
	// parallel mode
	DefaultConcurrency = 5

	// DefaultHistoryPath is where --record stores run history
	DefaultHistoryPath = ".tapestry/history.db"
)

var (
	outputFlag      string
	outputFileFlag  string
	parallelFlag    bool
	concurrencyFlag int
	bailFlag        bool
	verboseFlag     bool
	quietFlag       bool
	noColorFlag     bool
	watchFlag       bool
	watchDirsFlag   []string
	rateFlag        float64
	recordFlag      bool
	historyPathFlag string
	configFlag      string
)

func init() {
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("TAPESTRY_OUTPUT", ""), "Output format: console, json, tap (env: TAPESTRY_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", "", "Write output to file (default: stdout)")
	runCmd.Flags().BoolVarP(&parallelFlag, "parallel", "p", false, "Run files in parallel")
	runCmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "c", 0, "Max files in flight in parallel mode")
	runCmd.Flags().BoolVarP(&bailFlag, "bail", "b", false, "Stop launching files after the first failure")
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show passing tests in console output")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", getEnvBool("TAPESTRY_QUIET", false), "Only report failures (env: TAPESTRY_QUIET)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("TAPESTRY_NO_COLOR", false), "Disable colored output (env: TAPESTRY_NO_COLOR)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Re-run the suite when watched files change")
	runCmd.Flags().StringSliceVar(&watchDirsFlag, "watch-dir", nil, "Directories to watch (default: .)")
	runCmd.Flags().Float64Var(&rateFlag, "rate", 0, "Max file launches per second (0 = unlimited)")
	runCmd.Flags().BoolVar(&recordFlag, "record", false, "Record the run in history")
	runCmd.Flags().StringVar(&historyPathFlag, "history-path", getEnvString("TAPESTRY_HISTORY", ""), "History database path (env: TAPESTRY_HISTORY)")
	runCmd.Flags().StringVar(&configFlag, "config", getEnvString("TAPESTRY_CONFIG", ""), "Path to config file (env: TAPESTRY_CONFIG)")
}

// runSettings is the merged flag/config view one suite run executes under.
type runSettings struct {
	output      string
	parallel    bool
	concurrency int
	bail        bool
	noColor     bool
	quiet       bool
	rate        float64
	historyPath string
	watchDirs   []string
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		os.Exit(ExitConfigError)
	}
	settings := mergeSettings(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping gracefully...")
		cancel()
	}()

	code, err := runSuite(ctx, args, settings)
	if err != nil {
		return err
	}

	if watchFlag {
		code = watchLoop(ctx, args, settings, code)
	}

	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		cfg, err := config.Load(configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return nil, err
		}
		return cfg, nil
	}
	cfg, err := config.LoadOrDefault(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return nil, err
	}
	return cfg, nil
}

// mergeSettings layers flags over the config file over defaults.
func mergeSettings(cmd *cobra.Command, cfg *config.Config) runSettings {
	s := runSettings{
		output:      cfg.GetOutput(),
		parallel:    cfg.GetParallel(),
		concurrency: cfg.GetConcurrency(),
		bail:        cfg.GetBail(),
		noColor:     cfg.GetNoColor(),
		quiet:       cfg.GetQuiet(),
		rate:        cfg.Rate,
		historyPath: cfg.HistoryPath,
		watchDirs:   cfg.WatchDirs,
	}

	if outputFlag != "" {
		s.output = outputFlag
	}
	if cmd.Flags().Changed("parallel") {
		s.parallel = parallelFlag
	}
	if concurrencyFlag > 0 {
		s.concurrency = concurrencyFlag
	}
	if cmd.Flags().Changed("bail") {
		s.bail = bailFlag
	}
	if noColorFlag {
		s.noColor = true
	}
	if quietFlag {
		s.quiet = true
	}
	if cmd.Flags().Changed("rate") {
		s.rate = rateFlag
	}
	if historyPathFlag != "" {
		s.historyPath = historyPathFlag
	}
	if len(watchDirsFlag) > 0 {
		s.watchDirs = watchDirsFlag
	}
	if s.historyPath == "" {
		s.historyPath = DefaultHistoryPath
	}
	if len(s.watchDirs) == 0 {
		s.watchDirs = []string{"."}
	}
	return s
}

// runSuite executes every command once and renders the results. The returned
// code is the process exit code for this pass.
func runSuite(ctx context.Context, commands []string, s runSettings) (int, error) {
	formatter, cleanup, err := buildFormatter(s)
	if err != nil {
		return ExitUsageError, err
	}
	defer cleanup()

	recorder := metrics.NewRecorder()
	start := time.Now()

	var results []*output.FileResult
	if s.parallel {
		results = runParallel(ctx, commands, s)
	} else {
		results = runSequential(ctx, commands, s)
	}

	summary := &output.Summary{Duration: time.Since(start)}
	for _, r := range results {
		if r == nil {
			continue
		}
		summary.Files++
		summary.Counts.Add(r.Counts())
		if !r.Ok() {
			summary.Failed++
		}
		recorder.Record(r.Duration)
		formatter.FormatResult(r)
	}
	summary.Stats = recorder.Snapshot()

	if err := formatter.Flush(summary); err != nil {
		return ExitTestFailure, err
	}

	code := ExitSuccess
	if summary.Failed > 0 {
		code = ExitTestFailure
	}

	if recordFlag {
		if err := recordHistory(results, summary, start, code, s); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record history: %v\n", err)
		}
	}
	return code, nil
}

func buildFormatter(s runSettings) (output.Formatter, func(), error) {
	w := os.Stdout
	cleanup := func() {}
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return nil, cleanup, fmt.Errorf("creating output file: %w", err)
		}
		w = f
		cleanup = func() { _ = f.Close() }
	}

	switch s.output {
	case "console", "":
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(verboseFlag),
			output.WithNoColor(s.noColor),
			output.WithQuiet(s.quiet),
		), cleanup, nil
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w)), cleanup, nil
	case "tap":
		return output.NewTAPFormatter(output.TAPWithWriter(w)), cleanup, nil
	default:
		return nil, cleanup, fmt.Errorf("unknown output format %q", s.output)
	}
}

func runSequential(ctx context.Context, commands []string, s runSettings) []*output.FileResult {
	limiter := newLimiter(s.rate)
	results := make([]*output.FileResult, 0, len(commands))
	for _, command := range commands {
		if ctx.Err() != nil {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		r := runFile(ctx, command)
		results = append(results, r)
		if s.bail && !r.Ok() {
			break
		}
	}
	return results
}

func runParallel(ctx context.Context, commands []string, s runSettings) []*output.FileResult {
	concurrency := s.concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	limiter := newLimiter(s.rate)
	results := make([]*output.FileResult, len(commands))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	var failed atomic.Bool

	for i, command := range commands {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		sem <- struct{}{} // acquire semaphore
		if s.bail && failed.Load() {
			<-sem
			break
		}
		wg.Add(1)

		go func(idx int, command string) {
			defer wg.Done()
			defer func() { <-sem }() // release semaphore

			results[idx] = runFile(ctx, command)
			if !results[idx].Ok() {
				failed.Store(true)
			}
		}(i, command)
	}

	wg.Wait()
	return results
}

func newLimiter(r float64) *rate.Limiter {
	if r <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(r), 1)
}

// runFile executes one command and parses its stdout as a TAP document.
func runFile(ctx context.Context, command string) *output.FileResult {
	result := &output.FileResult{Path: command}
	start := time.Now()

	proc := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = os.Stderr

	err := proc.Run()
	result.Duration = time.Since(start)
	result.Raw = stdout.String()

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		result.Err = fmt.Errorf("running %q: %w", command, err)
		return result
	}

	run, perr := tap.Parse(&stdout)
	if perr != nil {
		result.Err = fmt.Errorf("parsing TAP from %q: %w", command, perr)
		return result
	}
	result.Run = run
	return result
}

func recordHistory(results []*output.FileResult, summary *output.Summary, start time.Time, code int, s runSettings) error {
	if dir := filepath.Dir(s.historyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	store, err := db.Open(s.historyPath)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := json.Marshal(output.BuildReport(results, summary))
	if err != nil {
		return err
	}
	return store.RecordRun(&db.RunRecord{
		StartedAt: start,
		Duration:  summary.Duration,
		Files:     summary.Files,
		Passed:    summary.Counts.Pass,
		Failed:    summary.Counts.Fail,
		Skipped:   summary.Counts.Skip,
		Todo:      summary.Counts.Todo,
		ExitCode:  code,
		Report:    string(report),
	})
}

// watchLoop re-runs the suite whenever a watched file changes, until ctx is
// cancelled. Returns the exit code of the last completed pass.
func watchLoop(ctx context.Context, commands []string, s runSettings, lastCode int) int {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: watch unavailable: %v\n", err)
		return lastCode
	}
	defer watcher.Close()

	for _, dir := range s.watchDirs {
		if err := watcher.Add(dir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot watch %s: %v\n", dir, err)
		}
	}
	fmt.Fprintf(os.Stderr, "watching %s for changes...\n", strings.Join(s.watchDirs, ", "))

	var debounce *time.Timer
	rerun := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return lastCode
		case event, ok := <-watcher.Events:
			if !ok {
				return lastCode
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case rerun <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return lastCode
			}
			fmt.Fprintf(os.Stderr, "warning: watch error: %v\n", err)
		case <-rerun:
			fmt.Fprintln(os.Stderr, "change detected, re-running...")
			code, err := runSuite(ctx, commands, s)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			lastCode = code
		}
	}
}
