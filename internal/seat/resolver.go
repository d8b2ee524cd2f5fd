package seat

import (
	"context"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
)

// EntitlementStore looks up entitlements by their external license key.
// Implementations return (nil, nil) when no entitlement has the key.
type EntitlementStore interface {
	GetEntitlementByKey(ctx context.Context, licenseKey string) (*models.Entitlement, error)
}

// Resolver validates that a license key is usable by an organization at a
// point in time. It holds no mutable state.
type Resolver struct {
	store EntitlementStore
}

// NewResolver creates a new Resolver.
func NewResolver(store EntitlementStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the entitlement for licenseKey if orgID owns it and it is
// active at the given time.
func (r *Resolver) Resolve(ctx context.Context, licenseKey, orgID string, at time.Time) (*models.Entitlement, error) {
	ent, err := r.store.GetEntitlementByKey(ctx, licenseKey)
	if err != nil {
		return nil, transient(err)
	}
	if ent == nil {
		return nil, ErrNotFound
	}
	details := map[string]any{"entitlement_id": ent.ID.String()}
	if ent.OrgID != orgID {
		return nil, ErrOrgMismatch.withDetails(details)
	}
	if ent.Status != models.EntitlementStatusActive {
		details["status"] = string(ent.Status)
		return nil, ErrInactive.withDetails(details)
	}
	if at.Before(ent.ValidFrom) {
		return nil, ErrNotYetValid.withDetails(details)
	}
	if ent.ValidUntil != nil && at.After(*ent.ValidUntil) {
		return nil, ErrExpired.withDetails(details)
	}
	return ent, nil
}
