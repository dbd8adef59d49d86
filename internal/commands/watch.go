package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bienestar/internal/jobs"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the history on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := newSession(ctx, v)
			if err != nil {
				return err
			}
			defer s.Close()

			w := cmd.OutOrStdout()
			scheduler, err := jobs.NewSyncScheduler(s.cfg.SyncSchedule, func(ctx context.Context) error {
				out, err := s.reconciler.Refresh(ctx)
				if err != nil {
					return err
				}
				printOutcome(w, out)
				if out.Err != nil {
					return out.Err
				}
				return nil
			})
			if err != nil {
				return err
			}

			// First run right away, then on schedule
			scheduler.RunNow(ctx)
			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(w, "⏰ Watching with schedule %q, next run %s (Ctrl+C to stop)\n",
				s.cfg.SyncSchedule, scheduler.NextRun().Local().Format("15:04"))

			<-ctx.Done()
			stats := scheduler.Stats()
			fmt.Fprintf(w, "⏹️  Stopped after %d runs (%d failed)\n", stats.Runs, stats.Failures)
			return scheduler.Stop()
		},
	}

	cmd.Flags().String("schedule", "", "Cron schedule (default SYNC_SCHEDULE or */15 * * * *)")
	v.BindPFlag("sync_schedule", cmd.Flags().Lookup("schedule"))
	return cmd
}
