package cli

import (
	"fmt"
	"strconv"
	"time"

	"ms-seating/internal/catalog"
	"ms-seating/internal/ledger"
	"ms-seating/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// SeedOptions describes a rectangular block of seats for one event.
type SeedOptions struct {
	EventID      string
	HomeTeam     string
	AwayTeam     string
	Sections     []string
	Rows         int
	SeatsPerRow  int
	Price        float64
	OnSale       bool
	CreateSchema bool
}

// NewSeedCommand creates the seed command. It is meant for local and test
// environments; production inventory comes from the event service.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision an event and a block of seats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Rows <= 0 || opts.SeatsPerRow <= 0 || len(opts.Sections) == 0 {
				return fmt.Errorf("--sections, --rows and --seats-per-row must be positive")
			}
			if opts.EventID == "" {
				opts.EventID = uuid.NewString()
			}

			ctx := cmd.Context()
			db, err := rootOpts.OpenDB(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer db.Close()

			if opts.CreateSchema {
				if err := ledger.CreateSchema(ctx, db); err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			status := models.EventUpcoming
			if opts.OnSale {
				status = models.EventOnSale
			}
			event := &models.Event{
				ID:            opts.EventID,
				HomeTeam:      opts.HomeTeam,
				AwayTeam:      opts.AwayTeam,
				EventDate:     now.Add(14 * 24 * time.Hour),
				SaleStartDate: now.Add(-time.Hour),
				SaleEndDate:   now.Add(13 * 24 * time.Hour),
				Status:        status,
			}
			if err := (&catalog.DB{Bun: db}).UpsertEvent(ctx, event); err != nil {
				return err
			}

			n, err := (&ledger.DB{Bun: db}).Provision(ctx, seatBlock(opts))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event %s (%s): %d new seats\n", event.ID, event.Status, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event", "", "event id (default: new uuid)")
	cmd.Flags().StringVar(&opts.HomeTeam, "home", "Home", "home team")
	cmd.Flags().StringVar(&opts.AwayTeam, "away", "Away", "away team")
	cmd.Flags().StringSliceVar(&opts.Sections, "sections", []string{"A"}, "section names")
	cmd.Flags().IntVar(&opts.Rows, "rows", 10, "rows per section")
	cmd.Flags().IntVar(&opts.SeatsPerRow, "seats-per-row", 20, "seats per row")
	cmd.Flags().Float64Var(&opts.Price, "price", 100, "seat price")
	cmd.Flags().BoolVar(&opts.OnSale, "on-sale", true, "open the sale window now")
	cmd.Flags().BoolVar(&opts.CreateSchema, "create-schema", false, "create missing tables first (without migrations)")
	return cmd
}

// seatBlock lays seats out as <section>-<row>-<number>.
func seatBlock(opts *SeedOptions) []models.TicketInventory {
	seats := make([]models.TicketInventory, 0, len(opts.Sections)*opts.Rows*opts.SeatsPerRow)
	for _, section := range opts.Sections {
		for row := 1; row <= opts.Rows; row++ {
			for number := 1; number <= opts.SeatsPerRow; number++ {
				seats = append(seats, models.TicketInventory{
					ID:      uuid.NewString(),
					EventID: opts.EventID,
					SeatID:  fmt.Sprintf("%s-%d-%d", section, row, number),
					Section: section,
					Row:     strconv.Itoa(row),
					Number:  number,
					Price:   opts.Price,
				})
			}
		}
	}
	return seats
}
