package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"eventix/internal/deadletter"
	"eventix/internal/services"

	"github.com/spf13/cobra"
)

type reconciler interface {
	Reconcile(ctx context.Context) ([]services.Mismatch, error)
}

type replayer interface {
	Replay(ctx context.Context, fn deadletter.ReplayFunc) (deadletter.ReplayResult, error)
}

var errNoReplayBroker = errors.New("dead-letter replay needs RABBIT_URL to point at the broker")

// reconcileCommand reports balances that disagree with their history rows.
func reconcileCommand(points reconciler) *cobra.Command {
	return &cobra.Command{
		Use:          "points:reconcile",
		Short:        "Compare points balances with the points history ledger",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mismatches, err := points.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if len(mismatches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all balances match their history")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tAVAILABLE\tLEDGER\tEARNED\tLEDGER EARNED")
			for _, m := range mismatches {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", m.UserID, m.AvailablePoints, m.LedgerAvailable, m.TotalPointsEarned, m.LedgerEarned)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return fmt.Errorf("%d balances disagree with their history", len(mismatches))
		},
	}
}

// replayCommand feeds dead-lettered settlements back through the handler.
func replayCommand(queue deadletter.Queue, settlement *services.SettlementService) *cobra.Command {
	return newReplayCommand(queue, settlement.Replay)
}

func newReplayCommand(queue deadletter.Queue, fn deadletter.ReplayFunc) *cobra.Command {
	return &cobra.Command{
		Use:          "deadletter:replay",
		Short:        "Re-run settlements parked on the dead-letter queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, ok := queue.(replayer)
			if !ok {
				return errNoReplayBroker
			}

			res, err := q.Replay(cmd.Context(), fn)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed=%d requeued=%d parked=%d malformed=%d\n", res.Replayed, res.Requeued, res.Parked, res.Malformed)
			return err
		},
	}
}
