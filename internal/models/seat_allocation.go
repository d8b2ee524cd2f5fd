package models

import (
	"time"

	"github.com/google/uuid"
)

// ClientMetadata is the optional device description reported on validate and heartbeat.
type ClientMetadata struct {
	Hostname   string `json:"hostname,omitempty"`
	OS         string `json:"os,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	ClientIP   string `json:"client_ip,omitempty"`
}

// SeatAllocation records one device occupying a seat under one entitlement.
// At most one row exists per (EntitlementID, DeviceID).
type SeatAllocation struct {
	ID              uuid.UUID      `json:"id"`
	EntitlementID   uuid.UUID      `json:"entitlement_id"`
	OrgID           string         `json:"org_id"`
	DeviceID        string         `json:"device_id"`
	Metadata        ClientMetadata `json:"metadata"`
	AllocatedAt     time.Time      `json:"allocated_at"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewSeatAllocation creates an allocation for a device whose first heartbeat is at.
func NewSeatAllocation(ent *Entitlement, deviceID string, meta ClientMetadata, at time.Time) *SeatAllocation {
	return &SeatAllocation{
		ID:              uuid.New(),
		EntitlementID:   ent.ID,
		OrgID:           ent.OrgID,
		DeviceID:        deviceID,
		Metadata:        meta,
		AllocatedAt:     at,
		LastHeartbeatAt: at,
		UpdatedAt:       at,
	}
}

// IsStale reports whether the allocation's last heartbeat predates threshold.
// Stale rows still exist but no longer occupy a seat.
func (a *SeatAllocation) IsStale(threshold time.Time) bool {
	return a.LastHeartbeatAt.Before(threshold)
}
