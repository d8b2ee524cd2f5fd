package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/db"
	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// importConcurrency bounds parallel upserts during import.
const importConcurrency = 4

func newEntitlementCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entitlement",
		Aliases: []string{"entitlements", "ent"},
		Short:   "Manage license entitlements",
	}

	cmd.AddCommand(
		newEntitlementCreateCmd(opts),
		newEntitlementListCmd(opts),
		newEntitlementSetStatusCmd(opts),
		newEntitlementImportCmd(opts),
	)

	return cmd
}

func newEntitlementCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		orgID      string
		maxSeats   int
		validFrom  string
		validUntil string
	)

	cmd := &cobra.Command{
		Use:   "create <license-key>",
		Short: "Create an entitlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := entitlementSpec{
				LicenseKey: args[0],
				OrgID:      orgID,
				MaxSeats:   maxSeats,
			}
			if validFrom != "" {
				t, err := time.Parse(time.RFC3339, validFrom)
				if err != nil {
					return fmt.Errorf("parse --valid-from: %w", err)
				}
				spec.ValidFrom = &t
			}
			if validUntil != "" {
				t, err := time.Parse(time.RFC3339, validUntil)
				if err != nil {
					return fmt.Errorf("parse --valid-until: %w", err)
				}
				spec.ValidUntil = &t
			}

			ent, err := spec.toEntitlement(time.Now())
			if err != nil {
				return err
			}

			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				if err := database.CreateEntitlement(ctx, ent); err != nil {
					if errors.Is(err, db.ErrDuplicateLicenseKey) {
						return fmt.Errorf("license key %q already exists", ent.LicenseKey)
					}
					return err
				}
				fmt.Printf("Created entitlement %s (%s, %d seats)\n", ent.LicenseKey, ent.ID, ent.MaxSeats)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Owning organization ID (required)")
	cmd.Flags().IntVar(&maxSeats, "seats", 1, "Maximum concurrently active seats")
	cmd.Flags().StringVar(&validFrom, "valid-from", "", "Start of validity (RFC 3339, default: now)")
	cmd.Flags().StringVar(&validUntil, "valid-until", "", "End of validity (RFC 3339, default: none)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func newEntitlementListCmd(opts *globalOptions) *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entitlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				ents, err := database.ListEntitlements(ctx, orgID)
				if err != nil {
					return err
				}
				if len(ents) == 0 {
					fmt.Println("No entitlements found")
					return nil
				}
				fmt.Printf("%-32s %-20s %6s  %-10s %s\n", "LICENSE KEY", "ORG", "SEATS", "STATUS", "VALID UNTIL")
				for _, e := range ents {
					until := "-"
					if e.ValidUntil != nil {
						until = e.ValidUntil.UTC().Format(time.RFC3339)
					}
					fmt.Printf("%-32s %-20s %6d  %-10s %s\n", e.LicenseKey, e.OrgID, e.MaxSeats, e.Status, until)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Only list entitlements of this organization")

	return cmd
}

func newEntitlementSetStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <license-key> <active|suspended|revoked>",
		Short: "Change an entitlement's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.EntitlementStatus(args[1])
			if !status.IsValid() {
				return fmt.Errorf("invalid status %q", args[1])
			}
			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				if err := database.SetEntitlementStatus(ctx, args[0], status); err != nil {
					if errors.Is(err, db.ErrEntitlementNotFound) {
						return fmt.Errorf("license key %q not found", args[0])
					}
					return err
				}
				fmt.Printf("Entitlement %s is now %s\n", args[0], status)
				return nil
			})
		},
	}
}

func newEntitlementImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update entitlements from a YAML file",
		Long: `Create or update entitlements from a YAML file of the form:

  entitlements:
    - license_key: LIC-ACME-1
      org_id: acme
      max_seats: 5
      valid_until: 2026-12-31T23:59:59Z
      status: active

Existing license keys are updated in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			ents, err := parseEntitlementFile(f, time.Now())
			if err != nil {
				return err
			}

			return opts.withDB(func(ctx context.Context, database *db.DB) error {
				created, updated, err := importEntitlements(ctx, database, ents)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d entitlements (%d created, %d updated)\n", len(ents), created, updated)
				return nil
			})
		},
	}
}

type entitlementUpserter interface {
	UpsertEntitlement(ctx context.Context, e *models.Entitlement) (bool, error)
}

func importEntitlements(ctx context.Context, store entitlementUpserter, ents []*models.Entitlement) (created, updated int, err error) {
	var nCreated, nUpdated atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	for _, e := range ents {
		g.Go(func() error {
			wasCreated, err := store.UpsertEntitlement(gctx, e)
			if err != nil {
				return fmt.Errorf("import %s: %w", e.LicenseKey, err)
			}
			if wasCreated {
				nCreated.Add(1)
			} else {
				nUpdated.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(nCreated.Load()), int(nUpdated.Load()), err
	}
	return int(nCreated.Load()), int(nUpdated.Load()), nil
}
