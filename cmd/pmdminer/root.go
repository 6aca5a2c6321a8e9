package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pmdminer/pmdminer/internal/aggregate"
	"github.com/pmdminer/pmdminer/internal/analyzer"
	"github.com/pmdminer/pmdminer/internal/cache"
	"github.com/pmdminer/pmdminer/internal/config"
	"github.com/pmdminer/pmdminer/internal/job"
	"github.com/pmdminer/pmdminer/internal/logging"
	"github.com/pmdminer/pmdminer/internal/model"
	"github.com/pmdminer/pmdminer/internal/progress"
	"github.com/pmdminer/pmdminer/internal/repo"
	"github.com/pmdminer/pmdminer/internal/scheduler"
)

// Exit codes, per the CLI's error-handling contract.
const (
	exitSuccess             = 0
	exitInvalidArguments    = 2
	exitRepositoryError     = 3
	exitAnalyzerUnreachable = 4
	exitPartialFailure      = 5
	exitInterrupted         = 130
)

var exitCode = exitSuccess

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "pmdminer <repo_location>",
	Short: "Mine a Git repository's history for PMD findings, one commit at a time.",
	Long: `pmdminer walks every commit of a Git repository, checks out each one into an
isolated worktree, runs a PMD ruleset against its Java sources through a
long-lived Analyzer service, and writes a per-commit JSON report plus a
summary.json aggregating warnings across the whole history.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("ruleset", "r", "", "Ruleset XML passed to the Analyzer (required).")
	flags.StringP("output-dir", "o", "", "Output root for per-commit JSON and summary.json (required).")
	flags.IntP("workers", "w", 0, "Parallelism; default is the number of logical CPUs.")
	flags.StringSlice("aux-jars", nil, "Extra classpath entries passed through to the Analyzer.")
	flags.BoolP("verbose", "v", false, "Enable debug logging.")
	flags.BoolP("quiet", "q", !term.IsTerminal(int(os.Stderr.Fd())), "Suppress info logging.")
	flags.String("analyzer-cmd", "", "Command to launch the Analyzer as a sibling process. "+
		"When empty, an already-running Analyzer at --analyzer-endpoint is used instead.")
	flags.String("analyzer-endpoint", "", "Analyzer HTTP endpoint "+
		"(default http://127.0.0.1:8000, overridable in .pmdminer.yaml).")
	flags.Duration("analyzer-ready-timeout", 30*time.Second, "Total deadline for the Analyzer readiness probe.")
}

func getString(flags *pflag.FlagSet, name string) string {
	v, err := flags.GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getInt(flags *pflag.FlagSet, name string) int {
	v, err := flags.GetInt(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getBool(flags *pflag.FlagSet, name string) bool {
	v, err := flags.GetBool(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getDuration(flags *pflag.FlagSet, name string) time.Duration {
	v, err := flags.GetDuration(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getStringSlice(flags *pflag.FlagSet, name string) []string {
	v, err := flags.GetStringSlice(name)
	if err != nil {
		panic(err)
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runRoot(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	defaults, err := config.Load(flags)
	if err != nil {
		exitCode = exitInvalidArguments
		return err
	}

	repoLocation := args[0]
	rulesetPath, err := homedir.Expand(firstNonEmpty(getString(flags, "ruleset"), defaults.RulesetPath))
	if err != nil {
		exitCode = exitInvalidArguments
		return err
	}
	outputDir, err := homedir.Expand(getString(flags, "output-dir"))
	if err != nil {
		exitCode = exitInvalidArguments
		return err
	}
	if outputDir != "" {
		outputDir, err = filepath.Abs(outputDir)
		if err != nil {
			exitCode = exitInvalidArguments
			return err
		}
	}
	workers := getInt(flags, "workers")
	if workers == 0 {
		workers = defaults.Workers
	}
	auxJars := getStringSlice(flags, "aux-jars")
	if len(auxJars) == 0 {
		auxJars = defaults.AuxJars
	}
	verbose := getBool(flags, "verbose")
	quiet := getBool(flags, "quiet")
	analyzerCmd := firstNonEmpty(getString(flags, "analyzer-cmd"), defaults.AnalyzerCmd)
	analyzerEndpoint := firstNonEmpty(getString(flags, "analyzer-endpoint"), defaults.AnalyzerEndpoint, "http://127.0.0.1:8000")

	if rulesetPath == "" || outputDir == "" {
		exitCode = exitInvalidArguments
		return errors.New("--ruleset and --output-dir are required")
	}

	l := logging.NewLogger(quiet, verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			l.Warn("interrupt received, finishing in-flight commits and shutting down")
			exitCode = exitInterrupted
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		exitCode = exitInvalidArguments
		return err
	}

	mgr := repo.NewManager(repoLocation, outputDir, l)
	commits, err := mgr.Initialize(ctx)
	if err != nil {
		exitCode = exitRepositoryError
		return err
	}

	var analyzerProc *exec.Cmd
	if analyzerCmd != "" {
		fields := strings.Fields(analyzerCmd)
		proc, err := analyzer.LaunchSibling(ctx, fields[0], fields[1:])
		if err != nil {
			exitCode = exitAnalyzerUnreachable
			return err
		}
		analyzerProc = proc
	}

	client := analyzer.NewClient(analyzerEndpoint, l)
	if analyzerProc != nil {
		client.AttachProcess(analyzerProc)
	}
	readyTimeout := getDuration(flags, "analyzer-ready-timeout")
	l.Infof("waiting for analyzer at %s", analyzerEndpoint)
	if err := client.WaitReady(ctx, readyTimeout); err != nil {
		exitCode = exitAnalyzerUnreachable
		return err
	}

	cachePath := filepath.Join(outputDir, "cache.bin")
	c, err := cache.Load(cachePath)
	if err != nil {
		l.Warnf("ignoring unreadable cache file %s: %v", cachePath, err)
		c = cache.New()
	}

	reporter := progress.New(len(commits))
	sched := scheduler.New(mgr, c, client, job.Config{
		RulesetPath:  rulesetPath,
		AuxClasspath: strings.Join(auxJars, string(os.PathListSeparator)),
		OutputDir:    outputDir,
	}, workers, l)
	sched.OnProgress = reporter.Report

	outcomes, runErr := sched.Run(ctx, commits)
	reporter.Done()

	if saveErr := c.Save(cachePath); saveErr != nil {
		l.Warnf("failed to persist cache: %v", saveErr)
	}

	if errors.Is(runErr, scheduler.ErrCancelled) {
		l.Warn("batch cancelled by user interrupt; no summary written")
		if exitCode == exitSuccess {
			exitCode = exitInterrupted
		}
		return nil
	}
	if runErr != nil {
		exitCode = exitRepositoryError
		return runErr
	}

	if err := aggregate.Write(outputDir, outcomes, len(commits)); err != nil {
		exitCode = exitRepositoryError
		return err
	}

	var failed int
	for _, o := range outcomes {
		if o.Outcome != model.OutcomeSuccess {
			failed++
		}
	}
	if failed > 0 {
		exitCode = exitPartialFailure
		l.Warnf("%d of %d commits were skipped or failed; see summary.json", failed, len(outcomes))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == exitSuccess {
			exitCode = exitInvalidArguments
		}
	}
	os.Exit(exitCode)
}
