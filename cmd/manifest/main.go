package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
	StoreDSN   string // overrides [store] dsn
}

// TimerFlags identifies the timer a command acts on
type TimerFlags struct {
	ID      string
	Mode    string
	Initial float64
	// API connection; empty APIUrl operates on the store directly
	APIUrl     string
	APITimeout time.Duration
}

// ListFlags holds flags for the list command
type ListFlags struct {
	Mode       string
	Match      string
	APIUrl     string
	APITimeout time.Duration
}

// WatchFlags holds flags for the watch command
type WatchFlags struct {
	TimerFlags
	Interval time.Duration
	Count    int
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, &ServeFlags{}),
		createTimerCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "manifest",
		Short: "Resilient countdown and stopwatch timers",
		Long: `Manifest keeps countdown and stopwatch timers accurate across pauses,
suspends and restarts by re-basing on the wall clock and persisting state
to a key-value store.

Examples:
  manifest timer start --id=tea --mode=countdown --initial=180
  manifest timer status --id=tea --mode=countdown
  manifest serve --config=manifest.toml`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.StoreDSN, "store", "", "store DSN, overrides the config (sqlite path, yaml://, postgres://, memory://)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the timer HTTP API",
		Long: `Run the HTTP API over the configured store. Timers declared under
[[timers]] are created (and recovered) at startup. On SIGINT or SIGTERM
every live timer writes a final record before the process exits.

Examples:
  manifest serve --config=manifest.toml
  manifest serve --listen=0.0.0.0:9090 --store=yaml:///var/lib/manifest/timers.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if serveFlags.Listen != "" {
				a.cfg.Server.Listen = serveFlags.Listen
			}
			return runServe(cmd.Context(), a, serveOptions{})
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address, overrides [server] listen")
	return cmd
}

// createTimerCommand groups the single-timer subcommands
func createTimerCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Operate on a persisted timer",
		Long: `Each invocation recovers the timer from the store, applies the action,
prints the resulting state as JSON and writes the record back. Running
timers keep advancing between invocations.

Examples:
  manifest timer start --id=run --mode=stopwatch
  manifest timer pause --id=run --mode=stopwatch
  manifest timer list`,
	}

	cmd.AddCommand(
		createTimerActionCommand(globalFlags, "start", "Start or resume a timer", actionStart),
		createTimerActionCommand(globalFlags, "pause", "Pause a running timer", actionPause),
		createTimerActionCommand(globalFlags, "resume", "Resume a paused timer", actionResume),
		createTimerActionCommand(globalFlags, "reset", "Reset a timer to its initial value", actionReset),
		createTimerActionCommand(globalFlags, "status", "Show a timer's state", actionStatus),
		createTimerActionCommand(globalFlags, "discard", "Remove a timer's record permanently", actionDiscard),
		createTimerWatchCommand(globalFlags, &WatchFlags{}),
		createTimerListCommand(globalFlags),
	)
	return cmd
}

func createTimerActionCommand(globalFlags *GlobalFlags, use, short string, act action) *cobra.Command {
	flags := &TimerFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.APIUrl != "" {
				return runRemoteAction(cmd.Context(), cmd.OutOrStdout(), *flags, use)
			}
			a, err := openApp(*globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.runAction(cmd.OutOrStdout(), *flags, act)
		},
	}
	addTimerFlags(cmd, flags)
	return cmd
}

// createTimerWatchCommand creates the watch subcommand
func createTimerWatchCommand(globalFlags *GlobalFlags, watchFlags *WatchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a timer's state periodically",
		Long: `Recover a timer and print its state as one JSON line per interval
until interrupted, until --count lines were printed, or until a countdown
completes.

Examples:
  manifest timer watch --id=tea --mode=countdown
  manifest timer watch --id=run --mode=stopwatch --interval=250ms --count=10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchFlags.APIUrl != "" {
				return runRemoteWatch(cmd.Context(), cmd.OutOrStdout(), *watchFlags)
			}
			a, err := openApp(*globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.runWatch(cmd.Context(), cmd.OutOrStdout(), *watchFlags)
		},
	}
	addTimerFlags(cmd, &watchFlags.TimerFlags)
	cmd.Flags().DurationVar(&watchFlags.Interval, "interval", time.Second, "print interval")
	cmd.Flags().IntVar(&watchFlags.Count, "count", 0, "stop after this many lines (0 = unlimited)")
	return cmd
}

// createTimerListCommand creates the list subcommand
func createTimerListCommand(globalFlags *GlobalFlags) *cobra.Command {
	listFlags := &ListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List timers",
		Long: `List persisted timer records from the store, or the live timers of a
running server when --api-url is given.

Examples:
  manifest timer list --mode=countdown
  manifest timer list --api-url=http://127.0.0.1:8080/api --match='tea-*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listFlags.APIUrl != "" {
				return runRemoteList(cmd.Context(), cmd.OutOrStdout(), *listFlags)
			}
			a, err := openApp(*globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.runList(cmd.Context(), cmd.OutOrStdout(), listFlags.Mode)
		},
	}
	cmd.Flags().StringVar(&listFlags.Mode, "mode", "", "only list timers of this mode")
	cmd.Flags().StringVar(&listFlags.Match, "match", "", "wildcard over ids (remote only)")
	addAPIFlags(cmd, &listFlags.APIUrl, &listFlags.APITimeout)
	return cmd
}

func addTimerFlags(cmd *cobra.Command, flags *TimerFlags) {
	cmd.Flags().StringVar(&flags.ID, "id", "", "timer instance id (required)")
	cmd.Flags().StringVar(&flags.Mode, "mode", "countdown", "countdown or stopwatch")
	cmd.Flags().Float64Var(&flags.Initial, "initial", 0, "initial value in seconds, used when no record exists")
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)

	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err) // This should never happen during setup
	}
}

// addAPIFlags adds the remote server connection flags
func addAPIFlags(cmd *cobra.Command, apiURL *string, timeout *time.Duration) {
	cmd.Flags().StringVar(apiURL, "api-url", "", "server URL (e.g. http://host:8080/api); empty uses the store directly")
	cmd.Flags().DurationVar(timeout, "api-timeout", 10*time.Second, "request timeout")
}
