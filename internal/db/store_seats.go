package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// errEntitlementGone is returned when the entitlement row disappears between
// resolution and locking.
var errEntitlementGone = errors.New("entitlement no longer exists")

const allocationColumns = `id, entitlement_id, org_id, device_id, hostname, os, app_version, client_ip,
	allocated_at, last_heartbeat_at, updated_at`

// SeatLedger is the Postgres seat.Ledger. Every decision on an entitlement
// locks that entitlement's row first, so count-then-insert sequences on the
// same entitlement run one at a time. The unique key on (entitlement_id,
// device_id) keeps one row per device regardless.
type SeatLedger struct {
	db *DB
}

// SeatLedger returns the seat ledger backed by this database.
func (db *DB) SeatLedger() *SeatLedger {
	return &SeatLedger{db: db}
}

var _ seat.Ledger = (*SeatLedger)(nil)

func lockEntitlement(ctx context.Context, tx pgx.Tx, entitlementID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM license_entitlements WHERE id = $1 FOR UPDATE`, entitlementID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errEntitlementGone
		}
		return fmt.Errorf("lock entitlement: %w", err)
	}
	return nil
}

// InEntitlementTx implements seat.Ledger. Serialization failures and
// deadlocks replay fn from the start.
func (l *SeatLedger) InEntitlementTx(ctx context.Context, entitlementID uuid.UUID, fn func(tx seat.LedgerTx) error) error {
	return l.db.ExecTxRetry(ctx, func(tx pgx.Tx) error {
		if err := lockEntitlement(ctx, tx, entitlementID); err != nil {
			return err
		}
		return fn(&ledgerTx{tx: tx})
	})
}

// RefreshHeartbeat implements seat.Ledger.
func (l *SeatLedger) RefreshHeartbeat(ctx context.Context, entitlementID uuid.UUID, deviceID string, meta models.ClientMetadata, threshold, at time.Time) (bool, error) {
	var refreshed bool
	err := l.db.ExecTxRetry(ctx, func(tx pgx.Tx) error {
		if err := lockEntitlement(ctx, tx, entitlementID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE seat_allocations
			SET last_heartbeat_at = $4, hostname = $5, os = $6, app_version = $7, client_ip = $8, updated_at = $4
			WHERE entitlement_id = $1 AND device_id = $2 AND last_heartbeat_at >= $3
		`, entitlementID, deviceID, threshold, at,
			nullIfEmpty(meta.Hostname), nullIfEmpty(meta.OS), nullIfEmpty(meta.AppVersion), nullIfEmpty(meta.ClientIP))
		if err != nil {
			return fmt.Errorf("refresh heartbeat: %w", err)
		}
		refreshed = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return refreshed, nil
}

// Release implements seat.Ledger.
func (l *SeatLedger) Release(ctx context.Context, entitlementID uuid.UUID, deviceID string) (bool, error) {
	tag, err := l.db.Pool.Exec(ctx,
		`DELETE FROM seat_allocations WHERE entitlement_id = $1 AND device_id = $2`,
		entitlementID, deviceID)
	if err != nil {
		return false, fmt.Errorf("release allocation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAllocations returns every allocation row of an entitlement, fresh and
// stale, ordered by device ID.
func (l *SeatLedger) ListAllocations(ctx context.Context, entitlementID uuid.UUID) ([]*models.SeatAllocation, error) {
	rows, err := l.db.Pool.Query(ctx,
		`SELECT `+allocationColumns+` FROM seat_allocations WHERE entitlement_id = $1 ORDER BY device_id`,
		entitlementID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []*models.SeatAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

// CompactAllocations deletes allocations whose last heartbeat is older than
// cutoff and returns how many were removed. Such rows no longer hold a seat;
// removing them never changes a decision outcome.
func (l *SeatLedger) CompactAllocations(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.db.Pool.Exec(ctx,
		`DELETE FROM seat_allocations WHERE last_heartbeat_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("compact allocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) CountActive(ctx context.Context, entitlementID uuid.UUID, threshold time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM seat_allocations WHERE entitlement_id = $1 AND last_heartbeat_at >= $2`,
		entitlementID, threshold,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active allocations: %w", err)
	}
	return n, nil
}

func (t *ledgerTx) FindAllocation(ctx context.Context, entitlementID uuid.UUID, deviceID string) (*models.SeatAllocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx,
		`SELECT `+allocationColumns+` FROM seat_allocations WHERE entitlement_id = $1 AND device_id = $2`,
		entitlementID, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find allocation: %w", err)
	}
	return a, nil
}

func (t *ledgerTx) UpsertAllocation(ctx context.Context, alloc *models.SeatAllocation) (*models.SeatAllocation, bool, error) {
	stored := *alloc
	var created bool
	err := t.tx.QueryRow(ctx, `
		INSERT INTO seat_allocations (`+allocationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entitlement_id, device_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			os = EXCLUDED.os,
			app_version = EXCLUDED.app_version,
			client_ip = EXCLUDED.client_ip,
			allocated_at = EXCLUDED.allocated_at,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, allocated_at, last_heartbeat_at, updated_at, (xmax = 0)
	`, alloc.ID, alloc.EntitlementID, alloc.OrgID, alloc.DeviceID,
		nullIfEmpty(alloc.Metadata.Hostname), nullIfEmpty(alloc.Metadata.OS),
		nullIfEmpty(alloc.Metadata.AppVersion), nullIfEmpty(alloc.Metadata.ClientIP),
		alloc.AllocatedAt, alloc.LastHeartbeatAt, alloc.UpdatedAt,
	).Scan(&stored.ID, &stored.AllocatedAt, &stored.LastHeartbeatAt, &stored.UpdatedAt, &created)
	if err != nil {
		return nil, false, fmt.Errorf("upsert allocation: %w", err)
	}
	return &stored, created, nil
}

func scanAllocation(row pgx.Row) (*models.SeatAllocation, error) {
	var a models.SeatAllocation
	var hostname, osName, appVersion, clientIP *string
	if err := row.Scan(&a.ID, &a.EntitlementID, &a.OrgID, &a.DeviceID,
		&hostname, &osName, &appVersion, &clientIP,
		&a.AllocatedAt, &a.LastHeartbeatAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Metadata = models.ClientMetadata{
		Hostname:   deref(hostname),
		OS:         deref(osName),
		AppVersion: deref(appVersion),
		ClientIP:   deref(clientIP),
	}
	return &a, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
