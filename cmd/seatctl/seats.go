package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/db"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/spf13/cobra"
)

func newSeatsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seats",
		Short: "Inspect seat allocations",
	}
	cmd.AddCommand(newSeatsListCmd(opts))
	return cmd
}

func newSeatsListCmd(opts *globalOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "list <license-key>",
		Short: "List the allocations of an entitlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				ent, err := database.GetEntitlementByKey(ctx, args[0])
				if err != nil {
					return err
				}
				if ent == nil {
					return fmt.Errorf("license key %q not found", args[0])
				}

				allocs, err := database.SeatLedger().ListAllocations(ctx, ent.ID)
				if err != nil {
					return err
				}

				threshold := time.Now().Add(-ttl)
				active := 0
				fmt.Printf("%-36s %-24s %-6s %-20s %s\n", "SEAT", "DEVICE", "STATE", "LAST HEARTBEAT", "HOSTNAME")
				for _, a := range allocs {
					state := "fresh"
					if a.IsStale(threshold) {
						state = "stale"
					} else {
						active++
					}
					fmt.Printf("%-36s %-24s %-6s %-20s %s\n",
						a.ID, a.DeviceID, state, a.LastHeartbeatAt.UTC().Format(time.RFC3339), a.Metadata.Hostname)
				}
				fmt.Printf("\n%d of %d seats in use (%d allocations)\n", active, ent.MaxSeats, len(allocs))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", seat.DefaultHeartbeatTTL, "Heartbeat TTL used to classify seats")

	return cmd
}

func newCompactCmd(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Delete allocations whose last heartbeat is older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= seat.DefaultHeartbeatTTL {
				return fmt.Errorf("--older-than must exceed the heartbeat TTL (%s)", seat.DefaultHeartbeatTTL)
			}
			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				n, err := database.SeatLedger().CompactAllocations(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d stale allocations\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum silence before an allocation is deleted")

	return cmd
}

func newAuditCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditListCmd(opts))
	return cmd
}

func newAuditListCmd(opts *globalOptions) *cobra.Command {
	var (
		filter db.AuditLogFilter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				logs, err := database.ListAuditLogs(ctx, filter)
				if err != nil {
					return err
				}
				for _, l := range logs {
					fmt.Printf("%s  %-20s %-16s %-36s %v\n",
						l.CreatedAt.UTC().Format(time.RFC3339), l.Action, l.EntityType, l.EntityID, l.Payload)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Action, "action", "", "Only show this action (e.g. validate_fail)")
	cmd.Flags().StringVar(&filter.EntityID, "entity", "", "Only show entries for this entity ID")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show entries newer than this duration")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum entries to show")

	return cmd
}
