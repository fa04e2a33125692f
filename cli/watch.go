package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the "watch" subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <rules>",
		Short: "Re-evaluate rules against an element snapshot on a schedule",
		Long: "Evaluates immediately and then on every tick of a cron schedule, re-reading " +
			"the element snapshot each time, until interrupted.",
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
	addEvalFlags(cmd)
	cmd.Flags().String("schedule", "", "Cron schedule, e.g. \"@every 5s\" or \"*/1 * * * *\" (default "+defaultSchedule+")")
	cmd.Flags().Int("count", 0, "Stop after this many evaluations (0 = until interrupted)")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	ev, err := prepareEval(cmd, args[0])
	if err != nil {
		return err
	}
	defer ev.Close(context.Background())

	spec := stringFlagOr(cmd, "schedule", ev.cfg.Schedule)
	if spec == "" {
		spec = defaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return exitError(exitValidation, "invalid schedule %q: %v", spec, err)
	}

	elementPath, _ := cmd.Flags().GetString("element")
	format, _ := cmd.Flags().GetString("format")
	limit, _ := cmd.Flags().GetInt("count")
	out := cmd.OutOrStdout()

	runs := 0
	tick := func() error {
		runs++
		snap, err := loadSnapshot(elementPath)
		if err != nil {
			return err
		}
		if format != "json" {
			fmt.Fprintf(out, "# run %d at %s\n", runs, time.Now().Format(time.RFC3339))
		}
		results, err := ev.evaluate(snap)
		printResults(out, results, format)
		return err
	}

	// The first pass runs synchronously so that a broken snapshot fails fast.
	if err := tick(); err != nil {
		return err
	}
	if limit > 0 && runs >= limit {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cronLogger{ev.logger}
	done := make(chan error, 1)
	var finish sync.Once
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(schedule, cron.FuncJob(func() {
		err := tick()
		var exitErr *ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr) && exitErr.Code == exitLeak:
			finish.Do(func() { done <- err })
			return
		default:
			// The snapshot may be mid-write; try again on the next tick.
			ev.logger.Warn("watch evaluation skipped", "error", err)
		}
		if limit > 0 && runs >= limit {
			finish.Do(func() { done <- nil })
		}
	}))
	c.Start()
	defer func() { <-c.Stop().Done() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

// cronLogger adapts slog to the cron scheduler's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
