package seat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/google/uuid"
)

type allocationKey struct {
	entitlementID uuid.UUID
	deviceID      string
}

// MemoryLedger is an in-process Ledger. Each entitlement has its own mutex,
// which is the single-writer serialization point for decisions on it; the
// map key on (entitlement, device) is the uniqueness backstop.
type MemoryLedger struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	rows  map[allocationKey]*models.SeatAllocation
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		locks: make(map[uuid.UUID]*sync.Mutex),
		rows:  make(map[allocationKey]*models.SeatAllocation),
	}
}

func (l *MemoryLedger) lockFor(entitlementID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[entitlementID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[entitlementID] = m
	}
	return m
}

// InEntitlementTx implements Ledger. Writes made through tx are staged and
// only applied when fn returns nil.
func (l *MemoryLedger) InEntitlementTx(ctx context.Context, entitlementID uuid.UUID, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := l.lockFor(entitlementID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memoryTx{ledger: l, staged: make(map[allocationKey]*models.SeatAllocation)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, row := range tx.staged {
		l.rows[k] = row
	}
	return nil
}

// RefreshHeartbeat implements Ledger.
func (l *MemoryLedger) RefreshHeartbeat(ctx context.Context, entitlementID uuid.UUID, deviceID string, meta models.ClientMetadata, threshold, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lock := l.lockFor(entitlementID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[allocationKey{entitlementID, deviceID}]
	if !ok || row.IsStale(threshold) {
		return false, nil
	}
	updated := *row
	updated.LastHeartbeatAt = at
	updated.UpdatedAt = at
	updated.Metadata = meta
	l.rows[allocationKey{entitlementID, deviceID}] = &updated
	return true, nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(ctx context.Context, entitlementID uuid.UUID, deviceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lock := l.lockFor(entitlementID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	key := allocationKey{entitlementID, deviceID}
	if _, ok := l.rows[key]; !ok {
		return false, nil
	}
	delete(l.rows, key)
	return true, nil
}

// Allocations returns a snapshot of every row held for an entitlement,
// fresh and stale, ordered by device ID.
func (l *MemoryLedger) Allocations(entitlementID uuid.UUID) []*models.SeatAllocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.SeatAllocation
	for k, row := range l.rows {
		if k.entitlementID == entitlementID {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

type memoryTx struct {
	ledger *MemoryLedger
	staged map[allocationKey]*models.SeatAllocation
}

func (tx *memoryTx) get(key allocationKey) (*models.SeatAllocation, bool) {
	if row, ok := tx.staged[key]; ok {
		return row, true
	}
	tx.ledger.mu.Lock()
	defer tx.ledger.mu.Unlock()
	row, ok := tx.ledger.rows[key]
	return row, ok
}

func (tx *memoryTx) CountActive(_ context.Context, entitlementID uuid.UUID, threshold time.Time) (int, error) {
	seen := make(map[string]bool)
	count := 0
	for k, row := range tx.staged {
		if k.entitlementID != entitlementID {
			continue
		}
		seen[k.deviceID] = true
		if !row.IsStale(threshold) {
			count++
		}
	}

	tx.ledger.mu.Lock()
	defer tx.ledger.mu.Unlock()
	for k, row := range tx.ledger.rows {
		if k.entitlementID != entitlementID || seen[k.deviceID] {
			continue
		}
		if !row.IsStale(threshold) {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) FindAllocation(_ context.Context, entitlementID uuid.UUID, deviceID string) (*models.SeatAllocation, error) {
	row, ok := tx.get(allocationKey{entitlementID, deviceID})
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (tx *memoryTx) UpsertAllocation(_ context.Context, alloc *models.SeatAllocation) (*models.SeatAllocation, bool, error) {
	key := allocationKey{alloc.EntitlementID, alloc.DeviceID}
	row := *alloc
	existing, ok := tx.get(key)
	if ok {
		row.ID = existing.ID
	}
	tx.staged[key] = &row
	c := row
	return &c, !ok, nil
}
