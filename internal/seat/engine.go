// Package seat implements floating seat allocation: resolving a license key to
// an entitlement, and granting, refreshing and releasing seats for devices
// under a hard cap on concurrently active seats.
//
// A seat is active while its allocation's last heartbeat is within the
// heartbeat TTL of the current time. Staleness is computed at read time:
// stale rows are skipped when counting capacity but are never swept.
package seat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatTTL is the silence interval after which a seat is reclaimable.
const DefaultHeartbeatTTL = 600 * time.Second

// Operation names a decision entry point.
type Operation string

const (
	OpValidate  Operation = "validate"
	OpHeartbeat Operation = "heartbeat"
	OpRelease   Operation = "release"
)

// DecisionObserver receives the outcome of every decision. An empty code
// means the decision succeeded.
type DecisionObserver interface {
	ObserveDecision(op Operation, code Code, elapsed time.Duration)
}

// Config holds engine settings.
type Config struct {
	// HeartbeatTTL is the maximum silence before an allocation is stale.
	HeartbeatTTL time.Duration
}

// DefaultConfig returns a Config with the default heartbeat TTL.
func DefaultConfig() Config {
	return Config{HeartbeatTTL: DefaultHeartbeatTTL}
}

// ValidateRequest asks for a seat for a device.
type ValidateRequest struct {
	LicenseKey string
	OrgID      string
	DeviceID   string
	Metadata   models.ClientMetadata
}

// HeartbeatRequest refreshes a device's existing seat.
type HeartbeatRequest struct {
	LicenseKey string
	OrgID      string
	DeviceID   string
	Metadata   models.ClientMetadata
}

// ReleaseRequest gives a device's seat back.
type ReleaseRequest struct {
	LicenseKey string
	OrgID      string
	DeviceID   string
}

// Decision is the result of a successful engine call.
type Decision struct {
	EntitlementID   uuid.UUID
	DeviceID        string
	SeatID          uuid.UUID
	Reattach        bool
	AllocatedAt     time.Time
	LastHeartbeatAt time.Time
	// ActiveSeats is the number of fresh allocations after a validate.
	ActiveSeats int
	MaxSeats    int
}

// Engine decides seat grants, refreshes and releases.
type Engine struct {
	resolver *Resolver
	ledger   Ledger
	clock    quartz.Clock
	ttl      time.Duration
	observer DecisionObserver
	logger   zerolog.Logger
}

// NewEngine creates a new Engine. The clock is the single source of "now"
// for every decision.
func NewEngine(entitlements EntitlementStore, ledger Ledger, clock quartz.Clock, cfg Config, logger zerolog.Logger) *Engine {
	ttl := cfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	return &Engine{
		resolver: NewResolver(entitlements),
		ledger:   ledger,
		clock:    clock,
		ttl:      ttl,
		logger:   logger.With().Str("component", "seat_engine").Logger(),
	}
}

// SetObserver registers an observer for decision outcomes.
func (e *Engine) SetObserver(o DecisionObserver) {
	e.observer = o
}

// HeartbeatTTL returns the configured reclamation threshold.
func (e *Engine) HeartbeatTTL() time.Duration {
	return e.ttl
}

// Validate grants a seat to the device, reattaching it to its own live seat
// when it already holds one.
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (decision *Decision, err error) {
	start := time.Now()
	defer func() { e.observe(OpValidate, err, start) }()

	now := e.clock.Now("seat", "validate")
	threshold := now.Add(-e.ttl)

	ent, err := e.resolver.Resolve(ctx, req.LicenseKey, req.OrgID, now)
	if err != nil {
		e.logRejection(OpValidate, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}

	err = e.ledger.InEntitlementTx(ctx, ent.ID, func(tx LedgerTx) error {
		decision = nil

		existing, err := tx.FindAllocation(ctx, ent.ID, req.DeviceID)
		if err != nil {
			return fmt.Errorf("find allocation: %w", err)
		}

		// A device's own live seat is refreshed without a capacity check.
		if existing != nil && !existing.IsStale(threshold) {
			existing.Metadata = req.Metadata
			existing.LastHeartbeatAt = now
			existing.UpdatedAt = now
			stored, _, err := tx.UpsertAllocation(ctx, existing)
			if err != nil {
				return fmt.Errorf("refresh allocation: %w", err)
			}
			active, err := tx.CountActive(ctx, ent.ID, threshold)
			if err != nil {
				return fmt.Errorf("count active allocations: %w", err)
			}
			decision = newDecision(ent, stored, true, active)
			return nil
		}

		active, err := tx.CountActive(ctx, ent.ID, threshold)
		if err != nil {
			return fmt.Errorf("count active allocations: %w", err)
		}
		if active >= ent.MaxSeats {
			return ErrSeatLimitExceeded.withDetails(map[string]any{
				"entitlement_id": ent.ID.String(),
				"active":         active,
				"max":            ent.MaxSeats,
			})
		}

		// New seat, or this device's stale row overwritten in place.
		alloc := models.NewSeatAllocation(ent, req.DeviceID, req.Metadata, now)
		if existing != nil {
			alloc.ID = existing.ID
		}
		stored, created, err := tx.UpsertAllocation(ctx, alloc)
		if err != nil {
			return fmt.Errorf("upsert allocation: %w", err)
		}

		// A concurrent insert for the same device won the unique key: the row
		// is this device's own live seat, so this is a reattach.
		reattach := existing == nil && !created
		if !reattach {
			active++
		}
		decision = newDecision(ent, stored, reattach, active)
		return nil
	})
	if err != nil {
		err = e.classify(err)
		e.logRejection(OpValidate, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}

	e.logger.Debug().
		Str("entitlement_id", ent.ID.String()).
		Str("device_id", req.DeviceID).
		Str("seat_id", decision.SeatID.String()).
		Bool("reattach", decision.Reattach).
		Int("active", decision.ActiveSeats).
		Int("max", decision.MaxSeats).
		Msg("seat granted")

	return decision, nil
}

// Heartbeat refreshes a device's live seat. It never allocates: a device with
// no allocation, or whose allocation has gone stale, must validate again.
func (e *Engine) Heartbeat(ctx context.Context, req HeartbeatRequest) (decision *Decision, err error) {
	start := time.Now()
	defer func() { e.observe(OpHeartbeat, err, start) }()

	now := e.clock.Now("seat", "heartbeat")

	ent, err := e.resolver.Resolve(ctx, req.LicenseKey, req.OrgID, now)
	if err != nil {
		e.logRejection(OpHeartbeat, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}

	ok, err := e.ledger.RefreshHeartbeat(ctx, ent.ID, req.DeviceID, req.Metadata, now.Add(-e.ttl), now)
	if err != nil {
		err = e.classify(fmt.Errorf("refresh heartbeat: %w", err))
		e.logRejection(OpHeartbeat, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}
	if !ok {
		err = ErrNoAllocation.withDetails(map[string]any{"entitlement_id": ent.ID.String()})
		e.logRejection(OpHeartbeat, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}

	return &Decision{
		EntitlementID:   ent.ID,
		DeviceID:        req.DeviceID,
		LastHeartbeatAt: now,
		MaxSeats:        ent.MaxSeats,
	}, nil
}

// Release frees the device's seat immediately, regardless of its heartbeat age.
func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (decision *Decision, err error) {
	start := time.Now()
	defer func() { e.observe(OpRelease, err, start) }()

	now := e.clock.Now("seat", "release")

	ent, err := e.resolver.Resolve(ctx, req.LicenseKey, req.OrgID, now)
	if err != nil {
		e.logRejection(OpRelease, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}

	ok, err := e.ledger.Release(ctx, ent.ID, req.DeviceID)
	if err != nil {
		err = e.classify(fmt.Errorf("release allocation: %w", err))
		e.logRejection(OpRelease, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}
	if !ok {
		err = ErrAllocationNotFound.withDetails(map[string]any{"entitlement_id": ent.ID.String()})
		e.logRejection(OpRelease, req.LicenseKey, req.DeviceID, err)
		return nil, err
	}

	return &Decision{
		EntitlementID: ent.ID,
		DeviceID:      req.DeviceID,
		MaxSeats:      ent.MaxSeats,
	}, nil
}

func newDecision(ent *models.Entitlement, alloc *models.SeatAllocation, reattach bool, active int) *Decision {
	return &Decision{
		EntitlementID:   ent.ID,
		DeviceID:        alloc.DeviceID,
		SeatID:          alloc.ID,
		Reattach:        reattach,
		AllocatedAt:     alloc.AllocatedAt,
		LastHeartbeatAt: alloc.LastHeartbeatAt,
		ActiveSeats:     active,
		MaxSeats:        ent.MaxSeats,
	}
}

// classify keeps decision errors as they are and turns anything else into a
// transient storage failure.
func (e *Engine) classify(err error) error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return transient(err)
}

func (e *Engine) logRejection(op Operation, licenseKey, deviceID string, err error) {
	code := CodeOf(err)
	event := e.logger.Info()
	if code == CodeTransientStorage {
		event = e.logger.Error().Err(errors.Unwrap(err))
	}
	event.
		Str("operation", string(op)).
		Str("license_key", licenseKey).
		Str("device_id", deviceID).
		Str("code", string(code)).
		Msg("seat decision rejected")
}

func (e *Engine) observe(op Operation, err error, start time.Time) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveDecision(op, CodeOf(err), time.Since(start))
}
