package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fentz26/lookout/internal/feed"
	"github.com/fentz26/lookout/internal/logging"
	"github.com/fentz26/lookout/internal/session"
	"github.com/fentz26/lookout/internal/state"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the feed without the console and print a summary",
	Long: `Reads the feed headlessly, logging every task warning, and prints the tasks
still tracked when it stops. Stops on Ctrl+C, when the feed closes, or after
--duration.`,
	RunE: runWatch,
}

var watchDuration time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogFile, cfg.Level())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	conn := feed.Connect(cfg.Target, feed.DefaultBackoff(), logger)
	defer conn.Close()
	sess := newSession(cfg, conn, state.Hide, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if watchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}

	if err := sess.Run(ctx); err != nil {
		return err
	}
	return printSummary(os.Stdout, sess)
}

func printSummary(out io.Writer, sess *session.Session) error {
	st := sess.State()
	now := sess.Now()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tTOTAL\tBUSY\tPOLLS\tWARNINGS")
	refs := make([]state.Ref[state.Task], 0, st.Tasks().Len())
	for ref := range st.Tasks().Refs() {
		refs = append(refs, ref)
	}
	state.TaskByID.Sort(now, refs, false)
	for _, ref := range refs {
		task, ok := ref.Get()
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			task.ID(), task.Name(), task.State(),
			task.Total(now).Round(time.Millisecond), task.Busy(now).Round(time.Millisecond),
			task.TotalPolls(), len(task.Warnings()))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, l := range st.Tasks().Linters() {
		if n := l.Count(); n > 0 {
			fmt.Fprintf(out, "⚠ %d %s\n", n, l.Summary())
		}
	}

	stats := sess.Stats()
	dropped := st.DroppedEvents()
	fmt.Fprintf(out, "\n%d updates (%d malformed), %d tasks, %d resources, %d async ops, %d dropped events\n",
		stats.Updates, stats.Malformed, st.Tasks().Len(), st.Resources().Len(), st.AsyncOps().Len(),
		dropped.Tasks+dropped.Resources+dropped.AsyncOps)
	return nil
}
