package seat

import (
	"context"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/google/uuid"
)

// LedgerTx exposes the seat ledger operations that must run atomically with
// respect to every other decision on the same entitlement.
type LedgerTx interface {
	// CountActive counts allocations with last_heartbeat_at >= threshold.
	// Older rows are excluded, not deleted.
	CountActive(ctx context.Context, entitlementID uuid.UUID, threshold time.Time) (int, error)
	// FindAllocation returns the device's allocation, or nil if none exists.
	FindAllocation(ctx context.Context, entitlementID uuid.UUID, deviceID string) (*models.SeatAllocation, error)
	// UpsertAllocation inserts alloc, or overwrites the existing row for the
	// same (entitlement, device) in place, keeping its ID. It returns the
	// stored row and whether a new row was created.
	UpsertAllocation(ctx context.Context, alloc *models.SeatAllocation) (*models.SeatAllocation, bool, error)
}

// Ledger is the durable record of which devices hold a seat under which
// entitlement.
type Ledger interface {
	// InEntitlementTx runs fn in a transaction serialized against all other
	// InEntitlementTx calls for the same entitlement. If fn returns an error
	// nothing it wrote is kept.
	InEntitlementTx(ctx context.Context, entitlementID uuid.UUID, fn func(tx LedgerTx) error) error
	// RefreshHeartbeat moves the heartbeat of a non-stale allocation to at and
	// replaces its metadata. It returns false when the device has no
	// allocation or its heartbeat is older than threshold.
	RefreshHeartbeat(ctx context.Context, entitlementID uuid.UUID, deviceID string, meta models.ClientMetadata, threshold, at time.Time) (bool, error)
	// Release deletes the device's allocation, returning false if none existed.
	Release(ctx context.Context, entitlementID uuid.UUID, deviceID string) (bool, error)
}
