package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action that was audited.
type AuditAction string

const (
	AuditActionValidateSuccess   AuditAction = "validate_success"
	AuditActionValidateFail      AuditAction = "validate_fail"
	AuditActionHeartbeat         AuditAction = "heartbeat"
	AuditActionHeartbeatFail     AuditAction = "heartbeat_fail"
	AuditActionRelease           AuditAction = "release"
	AuditActionReleaseFail       AuditAction = "release_fail"
	AuditActionTrialStart        AuditAction = "trial_start"
	AuditActionTrialValidateFail AuditAction = "trial_validate_fail"
)

// Audited entity types.
const (
	AuditEntityEntitlement    = "entitlement"
	AuditEntitySeatAllocation = "seat_allocation"
	AuditEntityDevice         = "device"
)

// AuditLog represents a single audit log entry for compliance tracking.
type AuditLog struct {
	ID         uuid.UUID      `json:"id"`
	Action     AuditAction    `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewAuditLog creates a new AuditLog entry.
func NewAuditLog(action AuditAction, entityType, entityID string) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now(),
	}
}

// WithPayload attaches structured details to the audit log.
func (a *AuditLog) WithPayload(payload map[string]any) *AuditLog {
	a.Payload = payload
	return a
}

// WithClientIP records the originating address of the request.
func (a *AuditLog) WithClientIP(ip string) *AuditLog {
	a.ClientIP = ip
	return a
}
