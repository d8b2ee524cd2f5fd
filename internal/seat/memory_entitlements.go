package seat

import (
	"context"
	"sync"

	"github.com/MacJediWizard/seatkeeper/internal/models"
)

// MemoryEntitlements is an in-process EntitlementStore keyed by license key.
type MemoryEntitlements struct {
	mu    sync.RWMutex
	byKey map[string]*models.Entitlement
}

// NewMemoryEntitlements creates a store holding the given entitlements.
func NewMemoryEntitlements(ents ...*models.Entitlement) *MemoryEntitlements {
	s := &MemoryEntitlements{byKey: make(map[string]*models.Entitlement)}
	for _, e := range ents {
		s.Put(e)
	}
	return s
}

// Put adds or replaces an entitlement.
func (s *MemoryEntitlements) Put(e *models.Entitlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.byKey[e.LicenseKey] = &c
}

// GetEntitlementByKey implements EntitlementStore.
func (s *MemoryEntitlements) GetEntitlementByKey(_ context.Context, licenseKey string) (*models.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byKey[licenseKey]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}
