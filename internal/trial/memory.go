package trial

import (
	"context"
	"sync"

	"github.com/MacJediWizard/seatkeeper/internal/models"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*models.Device)}
}

// GetDevice implements Store.
func (m *MemoryStore) GetDevice(_ context.Context, deviceID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

// RecordDevice implements Store.
func (m *MemoryStore) RecordDevice(_ context.Context, s DeviceSighting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[s.DeviceID]
	if !ok {
		d = &models.Device{DeviceID: s.DeviceID, FirstSeenAt: s.SeenAt}
		m.devices[s.DeviceID] = d
	}
	d.LastSeenAt = s.SeenAt
	if s.Metadata != (models.ClientMetadata{}) {
		d.Metadata = s.Metadata
	}
	if d.OrgID == nil && s.OrgID != "" {
		org := s.OrgID
		d.OrgID = &org
	}
	if d.TrialUsedAt == nil && s.StartTrial {
		at := s.SeenAt
		d.TrialUsedAt = &at
	}
	return nil
}
