package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/trial"
	"github.com/jackc/pgx/v5"
)

var _ trial.Store = (*DB)(nil)

// GetDevice returns a device by ID, or nil if it has never been seen.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	var metadata []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT device_id, org_id, first_seen_at, last_seen_at, trial_used_at, metadata
		FROM devices
		WHERE device_id = $1
	`, deviceID).Scan(&d.DeviceID, &d.OrgID, &d.FirstSeenAt, &d.LastSeenAt, &d.TrialUsedAt, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode device metadata: %w", err)
		}
	}
	return &d, nil
}

// RecordDevice inserts a device or refreshes its last sighting. The first
// recorded org ID and trial start are kept.
func (db *DB) RecordDevice(ctx context.Context, s trial.DeviceSighting) error {
	var metadata []byte
	if s.Metadata != (models.ClientMetadata{}) {
		var err error
		metadata, err = json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("encode device metadata: %w", err)
		}
	}
	var trialUsedAt any
	if s.StartTrial {
		trialUsedAt = s.SeenAt
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO devices (device_id, org_id, first_seen_at, last_seen_at, trial_used_at, metadata)
		VALUES ($1, $2, $3, $3, $4, $5)
		ON CONFLICT (device_id) DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			metadata = COALESCE(EXCLUDED.metadata, devices.metadata),
			trial_used_at = COALESCE(devices.trial_used_at, EXCLUDED.trial_used_at),
			org_id = COALESCE(devices.org_id, EXCLUDED.org_id)
	`, s.DeviceID, nullIfEmpty(s.OrgID), s.SeenAt, trialUsedAt, metadata)
	if err != nil {
		return fmt.Errorf("record device: %w", err)
	}
	return nil
}
