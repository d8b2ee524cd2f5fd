package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SeatEngine decides seat grants, refreshes and releases.
type SeatEngine interface {
	Validate(ctx context.Context, req seat.ValidateRequest) (*seat.Decision, error)
	Heartbeat(ctx context.Context, req seat.HeartbeatRequest) (*seat.Decision, error)
	Release(ctx context.Context, req seat.ReleaseRequest) (*seat.Decision, error)
}

// AuditRecorder records audit entries without blocking the request.
type AuditRecorder interface {
	Record(entry *models.AuditLog)
}

// LicenseHandler handles the seat allocation endpoints.
type LicenseHandler struct {
	engine SeatEngine
	audit  AuditRecorder
	logger zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler. audit may be nil.
func NewLicenseHandler(engine SeatEngine, audit AuditRecorder, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		engine: engine,
		audit:  audit,
		logger: logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the license routes. Callers authenticate
// with the license key in the body, not with a session.
func (h *LicenseHandler) RegisterPublicRoutes(r *gin.Engine) {
	lic := r.Group("/license")
	{
		lic.POST("/validate", h.Validate)
		lic.POST("/heartbeat", h.Heartbeat)
		lic.POST("/release", h.Release)
	}
}

// AllocationResponse describes the seat held after a successful validate.
type AllocationResponse struct {
	SeatID   string `json:"seat_id"`
	Reattach bool   `json:"reattach"`
}

// ValidateResponse is the response for the Validate endpoint.
type ValidateResponse struct {
	Success    bool               `json:"success"`
	Allocation AllocationResponse `json:"allocation"`
}

// SuccessResponse is the response for endpoints with no payload.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// Validate grants or reattaches a seat for a device.
// POST /license/validate
func (h *LicenseHandler) Validate(c *gin.Context) {
	var req LicenseRequest
	if !bindBody(c, &req, req.required) {
		return
	}

	d, err := h.engine.Validate(c.Request.Context(), seat.ValidateRequest{
		LicenseKey: req.LicenseID,
		OrgID:      req.OrgID,
		DeviceID:   req.DeviceID,
		Metadata:   clientMetadata(c, req.Hostname, req.OS, req.AppVersion),
	})
	if err != nil {
		h.recordFailure(c, models.AuditActionValidateFail, req, err)
		writeDecisionError(c, err)
		return
	}

	h.record(c, models.NewAuditLog(models.AuditActionValidateSuccess, models.AuditEntitySeatAllocation, d.SeatID.String()).
		WithPayload(map[string]any{
			"reattach":  d.Reattach,
			"device_id": d.DeviceID,
			"active":    d.ActiveSeats,
			"max":       d.MaxSeats,
		}))

	c.JSON(http.StatusOK, ValidateResponse{
		Success: true,
		Allocation: AllocationResponse{
			SeatID:   d.SeatID.String(),
			Reattach: d.Reattach,
		},
	})
}

// Heartbeat keeps a device's seat alive.
// POST /license/heartbeat
func (h *LicenseHandler) Heartbeat(c *gin.Context) {
	var req LicenseRequest
	if !bindBody(c, &req, req.required) {
		return
	}

	d, err := h.engine.Heartbeat(c.Request.Context(), seat.HeartbeatRequest{
		LicenseKey: req.LicenseID,
		OrgID:      req.OrgID,
		DeviceID:   req.DeviceID,
		Metadata:   clientMetadata(c, req.Hostname, req.OS, req.AppVersion),
	})
	if err != nil {
		h.recordFailure(c, models.AuditActionHeartbeatFail, req, err)
		writeDecisionError(c, err)
		return
	}

	h.record(c, models.NewAuditLog(models.AuditActionHeartbeat, models.AuditEntityEntitlement, d.EntitlementID.String()).
		WithPayload(map[string]any{"device_id": d.DeviceID}))

	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Release frees a device's seat.
// POST /license/release
func (h *LicenseHandler) Release(c *gin.Context) {
	var req LicenseRequest
	if !bindBody(c, &req, req.required) {
		return
	}

	d, err := h.engine.Release(c.Request.Context(), seat.ReleaseRequest{
		LicenseKey: req.LicenseID,
		OrgID:      req.OrgID,
		DeviceID:   req.DeviceID,
	})
	if err != nil {
		h.recordFailure(c, models.AuditActionReleaseFail, req, err)
		writeDecisionError(c, err)
		return
	}

	h.record(c, models.NewAuditLog(models.AuditActionRelease, models.AuditEntityEntitlement, d.EntitlementID.String()).
		WithPayload(map[string]any{"device_id": d.DeviceID}))

	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (h *LicenseHandler) recordFailure(c *gin.Context, action models.AuditAction, req LicenseRequest, err error) {
	payload := map[string]any{
		"reason":    string(seat.CodeOf(err)),
		"device_id": req.DeviceID,
	}
	entityID := ""
	var de *seat.Error
	if errors.As(err, &de) {
		for k, v := range de.Details {
			if k == "entitlement_id" {
				entityID, _ = v.(string)
				continue
			}
			payload[k] = v
		}
	}
	if entityID == "" {
		payload["license_key"] = req.LicenseID
	}
	h.record(c, models.NewAuditLog(action, models.AuditEntityEntitlement, entityID).WithPayload(payload))
}

func (h *LicenseHandler) record(c *gin.Context, entry *models.AuditLog) {
	if h.audit == nil {
		return
	}
	h.audit.Record(entry.WithClientIP(c.ClientIP()))
}
