// Package trial tracks per-device trial usage. Every device gets one trial,
// which starts on its first validation and optionally ends after a fixed
// duration.
package trial

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// CodeTrialExpired classifies a validation for a device whose trial has ended.
const CodeTrialExpired seat.Code = "TrialExpired"

// ErrTrialExpired is returned when the device's trial window has passed.
var ErrTrialExpired = &seat.Error{Code: CodeTrialExpired, Message: "Trial has expired"}

// DeviceSighting is one observation of a device recorded by the store.
type DeviceSighting struct {
	DeviceID string
	OrgID    string
	Metadata models.ClientMetadata
	SeenAt   time.Time
	// StartTrial sets trial_used_at to SeenAt unless the device already has one.
	StartTrial bool
}

// Store persists device trial bookkeeping.
type Store interface {
	// GetDevice returns the device, or nil if it has never been seen.
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	// RecordDevice inserts the device or updates last_seen_at and metadata.
	// An existing org ID or trial start is never overwritten.
	RecordDevice(ctx context.Context, s DeviceSighting) error
}

// Request asks whether a device may run in trial mode.
type Request struct {
	DeviceID string
	OrgID    string
	Metadata models.ClientMetadata
}

// Result describes an active trial.
type Result struct {
	FirstUse bool
	// ExpiresAt is nil when trials never expire.
	ExpiresAt *time.Time
}

// Service validates trials.
type Service struct {
	store    Store
	clock    quartz.Clock
	duration time.Duration
	logger   zerolog.Logger
}

// NewService creates a trial Service. A zero duration means trials never expire.
func NewService(store Store, clock quartz.Clock, duration time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		clock:    clock,
		duration: duration,
		logger:   logger.With().Str("component", "trial").Logger(),
	}
}

// Validate starts the device's trial on first use, or checks that its trial
// is still running.
func (s *Service) Validate(ctx context.Context, req Request) (*Result, error) {
	now := s.clock.Now("trial", "validate")

	device, err := s.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	sighting := DeviceSighting{
		DeviceID: req.DeviceID,
		OrgID:    req.OrgID,
		Metadata: req.Metadata,
		SeenAt:   now,
	}

	if device == nil {
		sighting.StartTrial = true
		if err := s.store.RecordDevice(ctx, sighting); err != nil {
			return nil, fmt.Errorf("record device: %w", err)
		}
		s.logger.Info().Str("device_id", req.DeviceID).Msg("trial started")
		return &Result{FirstUse: true, ExpiresAt: s.expiry(now)}, nil
	}

	start := device.TrialStart()
	sighting.StartTrial = device.TrialUsedAt == nil
	if err := s.store.RecordDevice(ctx, sighting); err != nil {
		return nil, fmt.Errorf("record device: %w", err)
	}

	if s.duration > 0 && now.Sub(start) >= s.duration {
		s.logger.Debug().Str("device_id", req.DeviceID).Time("trial_start", start).Msg("trial expired")
		return nil, ErrTrialExpired
	}
	return &Result{FirstUse: false, ExpiresAt: s.expiry(start)}, nil
}

func (s *Service) expiry(start time.Time) *time.Time {
	if s.duration <= 0 {
		return nil
	}
	at := start.Add(s.duration)
	return &at
}
