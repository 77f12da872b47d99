package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"ms-seating/internal/config"
	"ms-seating/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// RootOptions holds what every subcommand shares. OpenDB and OpenRedis are
// swapped out in tests.
type RootOptions struct {
	Config    *config.Config
	Verbose   bool
	OpenDB    func(ctx context.Context, cfg *config.Config) (*bun.DB, error)
	OpenRedis func(ctx context.Context, cfg *config.Config) (*redis.Client, error)
}

// NewRootCommand creates the root command for the seatctl CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{OpenDB: openPostgres, OpenRedis: openRedis})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seatctl",
		Short: "Operate the seat hold service",
		Long:  "Operator tooling for the seating service: schema migrations, hold sweeps, lease inspection and local seeding.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if opts.Config == nil {
				opts.Config = config.Load()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewLeaseCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// logger returns a console logger on stderr when --verbose is set, a silent one otherwise.
func (o *RootOptions) logger(cmd *cobra.Command) *logger.Logger {
	var w io.Writer
	if o.Verbose {
		w = cmd.ErrOrStderr()
	}
	return logger.NewConsoleLogger(w)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN not set")
	}
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}
