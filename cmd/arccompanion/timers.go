package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/djlord-it/arc-companion/internal/api"
	"github.com/djlord-it/arc-companion/internal/domain"
	"github.com/djlord-it/arc-companion/internal/metaforge"
	"github.com/djlord-it/arc-companion/internal/metrics"
	"github.com/djlord-it/arc-companion/internal/scheduler"
	"github.com/djlord-it/arc-companion/internal/transport/channel"
	"github.com/djlord-it/arc-companion/internal/tui"
)

type timersOptions struct {
	once    bool
	json    bool
	width   int
	mapName string
	name    string
	logFile string
}

func parseTimersFlags(args []string) (timersOptions, error) {
	var opts timersOptions
	flags := pflag.NewFlagSet("timers", pflag.ContinueOnError)
	flags.BoolVar(&opts.once, "once", false, "print the countdowns once and exit")
	flags.BoolVar(&opts.json, "json", false, "with --once, print the snapshot as JSON")
	flags.IntVar(&opts.width, "width", 80, "with --once, table width in columns")
	flags.StringVar(&opts.mapName, "map", "", "only show timers on this map (overrides TIMER_MAP)")
	flags.StringVar(&opts.name, "name", "", "only show timers with this name (overrides TIMER_NAME)")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file while the display is open")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if opts.json && !opts.once {
		return opts, errors.New("--json requires --once")
	}
	return opts, nil
}

func runTimers(args []string) int {
	opts, err := parseTimersFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSuccess
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}

	cfg, ok := loadConfig()
	if !ok {
		return exitInvalidConfig
	}

	filter := metaforge.Filter{Map: cfg.TimerMap, Name: cfg.TimerName}
	if opts.mapName != "" {
		filter.Map = opts.mapName
	}
	if opts.name != "" {
		filter.Name = opts.name
	}

	// The display owns the terminal; logs go to a file or nowhere.
	if !opts.once {
		if opts.logFile != "" {
			f, err := tea.LogToFile(opts.logFile, "arccompanion")
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
				return exitRuntimeError
			}
			defer f.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}

	up, err := newUpstream(cfg, metrics.NewNoopSink())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create api client: %v\n", err)
		return exitRuntimeError
	}
	defer up.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	board := channel.NewBoard()
	defer board.Close()
	sched := scheduler.New(scheduler.Config{TickInterval: cfg.TickInterval},
		timerSource{client: up.client, filter: filter}, board)

	if opts.once {
		sched.Load(ctx)
		snapshot, _ := board.Latest()
		return printSnapshot(os.Stdout, snapshot, opts)
	}

	return runDisplay(ctx, cancel, sched, board)
}

func printSnapshot(w io.Writer, s domain.Snapshot, opts timersOptions) int {
	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(api.NewSnapshotResponse(s)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode snapshot: %v\n", err)
			return exitRuntimeError
		}
		return exitSuccess
	}
	fmt.Fprintln(w, tui.Render(s, opts.width))
	return exitSuccess
}

func runDisplay(ctx context.Context, cancel context.CancelFunc, sched *scheduler.Scheduler, board *channel.Board) int {
	updates := board.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	go sched.Load(ctx)

	program := tea.NewProgram(tui.NewModel(ctx, updates, sched), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()

	cancel()
	<-done

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "display error: %v\n", err)
		return exitRuntimeError
	}
	return exitSuccess
}
