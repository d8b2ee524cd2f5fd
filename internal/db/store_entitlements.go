package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrDuplicateLicenseKey is returned when creating an entitlement whose
// license key is already taken.
var ErrDuplicateLicenseKey = errors.New("license key already exists")

// ErrEntitlementNotFound is returned by admin operations on an unknown key.
var ErrEntitlementNotFound = errors.New("entitlement not found")

const entitlementColumns = `id, org_id, license_key, max_seats, valid_from, valid_until, status, created_at, updated_at`

func scanEntitlement(row pgx.Row) (*models.Entitlement, error) {
	var e models.Entitlement
	var status string
	if err := row.Scan(&e.ID, &e.OrgID, &e.LicenseKey, &e.MaxSeats, &e.ValidFrom, &e.ValidUntil,
		&status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = models.EntitlementStatus(status)
	return &e, nil
}

// GetEntitlementByKey returns the entitlement for a license key, or nil if
// no entitlement has it.
func (db *DB) GetEntitlementByKey(ctx context.Context, licenseKey string) (*models.Entitlement, error) {
	e, err := scanEntitlement(db.Pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM license_entitlements WHERE license_key = $1`, licenseKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entitlement by key: %w", err)
	}
	return e, nil
}

// CreateEntitlement inserts a new entitlement.
func (db *DB) CreateEntitlement(ctx context.Context, e *models.Entitlement) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO license_entitlements (`+entitlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.OrgID, e.LicenseKey, e.MaxSeats, e.ValidFrom, e.ValidUntil, string(e.Status), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateLicenseKey
		}
		return fmt.Errorf("create entitlement: %w", err)
	}
	return nil
}

// UpsertEntitlement creates the entitlement or, when its license key exists,
// replaces the mutable fields. It reports whether a row was created.
func (db *DB) UpsertEntitlement(ctx context.Context, e *models.Entitlement) (bool, error) {
	var created bool
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO license_entitlements (`+entitlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (license_key) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			max_seats = EXCLUDED.max_seats,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0)
	`, e.ID, e.OrgID, e.LicenseKey, e.MaxSeats, e.ValidFrom, e.ValidUntil, string(e.Status), e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID, &created)
	if err != nil {
		return false, fmt.Errorf("upsert entitlement: %w", err)
	}
	return created, nil
}

// ListEntitlements returns entitlements ordered by license key. An empty
// orgID lists every organization.
func (db *DB) ListEntitlements(ctx context.Context, orgID string) ([]*models.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM license_entitlements`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id = $1`
		args = append(args, orgID)
	}
	query += ` ORDER BY license_key`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var out []*models.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements: %w", err)
	}
	return out, nil
}

// SetEntitlementStatus changes the administrative status of an entitlement.
func (db *DB) SetEntitlementStatus(ctx context.Context, licenseKey string, status models.EntitlementStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid entitlement status %q", status)
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE license_entitlements SET status = $2, updated_at = $3 WHERE license_key = $1
	`, licenseKey, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("set entitlement status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntitlementNotFound
	}
	return nil
}
