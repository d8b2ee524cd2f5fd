// Package main is the entrypoint for seatctl, the Seatkeeper admin CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/db"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

const commandTimeout = 2 * time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	dbURL   string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "seatctl",
		Short: "Administer Seatkeeper entitlements and seats",
		Long: `seatctl manages license entitlements and inspects seat allocations
directly in the Seatkeeper database.

The database is taken from --db or the DATABASE_URL environment variable.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dbURL, "db", "", "Database URL (or set DATABASE_URL env var)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log database activity")

	rootCmd.AddCommand(
		newVersionCmd(),
		newEntitlementCmd(opts),
		newSeatsCmd(opts),
		newCompactCmd(opts),
		newAuditCmd(opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("seatctl %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
		},
	}
}

// withDB connects to the database, runs fn and closes the pool.
func (o *globalOptions) withDB(fn func(ctx context.Context, database *db.DB) error) error {
	url := o.dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return errors.New("database URL required: use --db flag or set DATABASE_URL")
	}

	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 4
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	return fn(ctx, database)
}
