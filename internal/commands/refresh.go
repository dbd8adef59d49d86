package commands

import (
	"fmt"
	"io"

	"bienestar/internal/reconcile"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRefreshCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile the local history with the evaluations API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.reconciler.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("local history unavailable: %w", err)
			}
			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func printOutcome(w io.Writer, out *reconcile.Outcome) {
	switch out.State {
	case reconcile.StateMerged:
		fmt.Fprintf(w, "✅ Synced: %d records (%d from server", len(out.Records), out.Accepted)
		if out.Rejected > 0 {
			fmt.Fprintf(w, ", %d malformed dropped", out.Rejected)
		}
		fmt.Fprintln(w, ")")
	case reconcile.StateSoftFailed:
		fmt.Fprintf(w, "⚠️  %s (%d records)\n", out.Advisory, len(out.Records))
		fmt.Fprintf(w, "   cause: %v\n", out.Err)
	default:
		fmt.Fprintf(w, "⏹️  Refresh %s\n", out.State)
	}
}
