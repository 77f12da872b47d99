package cli

import (
	"encoding/json"
	"fmt"

	"ms-seating/internal/lease"

	"github.com/spf13/cobra"
)

// NewLeaseCommand creates the lease command group.
func NewLeaseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect seat leases in redis",
	}

	var asJSON bool
	inspect := &cobra.Command{
		Use:   "inspect <event-id> <seat-id>...",
		Short: "Show owner and remaining TTL of seat leases",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := rootOpts.OpenRedis(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer client.Close()

			store := lease.NewRedisStore(client, rootOpts.logger(cmd))
			eventID := args[0]
			out := cmd.OutOrStdout()
			for _, seatID := range args[1:] {
				info, err := store.Inspect(ctx, eventID, seatID)
				if err != nil {
					return err
				}
				if asJSON {
					if err := json.NewEncoder(out).Encode(info); err != nil {
						return err
					}
					continue
				}
				if !info.Held {
					fmt.Fprintf(out, "%s/%s\tfree\n", eventID, seatID)
					continue
				}
				fmt.Fprintf(out, "%s/%s\theld by %s\t%ds left\n", eventID, seatID, info.Owner, info.TTLSecs)
			}
			return nil
		},
	}
	inspect.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per seat")

	heldBy := &cobra.Command{
		Use:   "held-by <event-id> <session-id>",
		Short: "List the seats a session still holds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := rootOpts.OpenRedis(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer client.Close()

			seats, err := lease.NewRedisStore(client, rootOpts.logger(cmd)).HeldBy(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for _, seatID := range seats {
				fmt.Fprintln(cmd.OutOrStdout(), seatID)
			}
			return nil
		},
	}

	cmd.AddCommand(inspect, heldBy)
	return cmd
}
