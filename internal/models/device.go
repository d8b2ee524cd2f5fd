package models

import "time"

// Device is a cross-license installation identity used for trial bookkeeping.
type Device struct {
	DeviceID    string         `json:"device_id"`
	OrgID       *string        `json:"org_id,omitempty"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	TrialUsedAt *time.Time     `json:"trial_used_at,omitempty"`
	Metadata    ClientMetadata `json:"metadata"`
}

// TrialStart returns when the device's trial began. Devices recorded before
// trial tracking existed fall back to their first sighting.
func (d *Device) TrialStart() time.Time {
	if d.TrialUsedAt != nil {
		return *d.TrialUsedAt
	}
	return d.FirstSeenAt
}
