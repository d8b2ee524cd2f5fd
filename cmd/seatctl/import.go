package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// entitlementFile is the document accepted by "entitlement import".
type entitlementFile struct {
	Entitlements []entitlementSpec `yaml:"entitlements"`
}

type entitlementSpec struct {
	LicenseKey string     `yaml:"license_key"`
	OrgID      string     `yaml:"org_id"`
	MaxSeats   int        `yaml:"max_seats"`
	ValidFrom  *time.Time `yaml:"valid_from"`
	ValidUntil *time.Time `yaml:"valid_until"`
	Status     string     `yaml:"status"`
}

// toEntitlement validates the spec and builds an entitlement. A missing
// valid_from defaults to now and a missing status to active.
func (s entitlementSpec) toEntitlement(now time.Time) (*models.Entitlement, error) {
	key := strings.TrimSpace(s.LicenseKey)
	if key == "" {
		return nil, errors.New("license_key is required")
	}
	if strings.TrimSpace(s.OrgID) == "" {
		return nil, fmt.Errorf("%s: org_id is required", key)
	}
	if s.MaxSeats < 1 {
		return nil, fmt.Errorf("%s: max_seats must be at least 1", key)
	}

	status := models.EntitlementStatusActive
	if s.Status != "" {
		status = models.EntitlementStatus(s.Status)
		if !status.IsValid() {
			return nil, fmt.Errorf("%s: invalid status %q", key, s.Status)
		}
	}

	validFrom := now
	if s.ValidFrom != nil {
		validFrom = *s.ValidFrom
	}
	if s.ValidUntil != nil && s.ValidUntil.Before(validFrom) {
		return nil, fmt.Errorf("%s: valid_until precedes valid_from", key)
	}

	return &models.Entitlement{
		ID:         uuid.New(),
		OrgID:      strings.TrimSpace(s.OrgID),
		LicenseKey: key,
		MaxSeats:   s.MaxSeats,
		ValidFrom:  validFrom,
		ValidUntil: s.ValidUntil,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// parseEntitlementFile decodes and validates an import document. Every entry
// is checked before anything is written, and a license key may appear once.
func parseEntitlementFile(r io.Reader, now time.Time) ([]*models.Entitlement, error) {
	var doc entitlementFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("import file is empty")
		}
		return nil, fmt.Errorf("decode import file: %w", err)
	}
	if len(doc.Entitlements) == 0 {
		return nil, errors.New("import file lists no entitlements")
	}

	seen := make(map[string]bool, len(doc.Entitlements))
	out := make([]*models.Entitlement, 0, len(doc.Entitlements))
	for i, spec := range doc.Entitlements {
		ent, err := spec.toEntitlement(now)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if seen[ent.LicenseKey] {
			return nil, fmt.Errorf("entry %d: duplicate license key %s", i+1, ent.LicenseKey)
		}
		seen[ent.LicenseKey] = true
		out = append(out, ent)
	}
	return out, nil
}
