package cli

import (
	"fmt"
	"time"

	"ms-seating/internal/availability"
	"ms-seating/internal/lease"
	"ms-seating/internal/ledger"

	"github.com/spf13/cobra"
)

// NewSweepCommand creates the sweep command: one heal pass over stale holds.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		eventID string
		batch   int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Heal HELD seats whose lease has expired",
		Long: `Run one pass of the hold sweeper.

Seats recorded as HELD whose expiry has passed and whose lease is gone are
returned to AVAILABLE. Seats re-held since then are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := rootOpts.OpenDB(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer db.Close()
			client, err := rootOpts.OpenRedis(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer client.Close()

			log := rootOpts.logger(cmd)
			r := availability.NewReconciler(lease.NewRedisStore(client, log), &ledger.DB{Bun: db}, log, false)
			n, err := r.Sweep(ctx, eventID, time.Now(), batch)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "healed %d seats\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "only sweep this event (default: all events)")
	cmd.Flags().IntVar(&batch, "batch", 500, "maximum rows to examine")
	return cmd
}
