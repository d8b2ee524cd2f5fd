// Package models defines the domain models for Seatkeeper.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EntitlementStatus represents the administrative state of an entitlement.
type EntitlementStatus string

const (
	// EntitlementStatusActive allows devices to occupy seats.
	EntitlementStatusActive EntitlementStatus = "active"
	// EntitlementStatusSuspended temporarily blocks the license.
	EntitlementStatusSuspended EntitlementStatus = "suspended"
	// EntitlementStatusRevoked permanently blocks the license.
	EntitlementStatusRevoked EntitlementStatus = "revoked"
)

// ValidEntitlementStatuses returns all recognized entitlement statuses.
func ValidEntitlementStatuses() []EntitlementStatus {
	return []EntitlementStatus{EntitlementStatusActive, EntitlementStatusSuspended, EntitlementStatusRevoked}
}

// IsValid checks if the status is a recognized value.
func (s EntitlementStatus) IsValid() bool {
	for _, valid := range ValidEntitlementStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// Entitlement is the seat capacity an organization purchased under one license key.
type Entitlement struct {
	ID         uuid.UUID         `json:"id"`
	OrgID      string            `json:"org_id"`
	LicenseKey string            `json:"license_key"`
	MaxSeats   int               `json:"max_seats"`
	ValidFrom  time.Time         `json:"valid_from"`
	ValidUntil *time.Time        `json:"valid_until,omitempty"`
	Status     EntitlementStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewEntitlement creates an active Entitlement valid from now with no end date.
func NewEntitlement(orgID, licenseKey string, maxSeats int) *Entitlement {
	now := time.Now()
	return &Entitlement{
		ID:         uuid.New(),
		OrgID:      orgID,
		LicenseKey: licenseKey,
		MaxSeats:   maxSeats,
		ValidFrom:  now,
		Status:     EntitlementStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ActiveAt reports whether t falls inside the entitlement's validity window.
// A nil ValidUntil means the window is unbounded.
func (e *Entitlement) ActiveAt(t time.Time) bool {
	if t.Before(e.ValidFrom) {
		return false
	}
	if e.ValidUntil != nil && t.After(*e.ValidUntil) {
		return false
	}
	return true
}
