package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/MacJediWizard/seatkeeper/internal/trial"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TrialValidator starts or checks a device's trial.
type TrialValidator interface {
	Validate(ctx context.Context, req trial.Request) (*trial.Result, error)
}

// TrialMetrics counts trial outcomes.
type TrialMetrics interface {
	RecordTrial(code seat.Code)
}

// TrialHandler handles the device trial endpoint.
type TrialHandler struct {
	trials  TrialValidator
	audit   AuditRecorder
	metrics TrialMetrics
	logger  zerolog.Logger
}

// NewTrialHandler creates a new TrialHandler. audit may be nil.
func NewTrialHandler(trials TrialValidator, audit AuditRecorder, logger zerolog.Logger) *TrialHandler {
	return &TrialHandler{
		trials: trials,
		audit:  audit,
		logger: logger.With().Str("component", "trial_handler").Logger(),
	}
}

// SetMetrics sets the recorder for trial outcomes.
func (h *TrialHandler) SetMetrics(m TrialMetrics) {
	h.metrics = m
}

// RegisterPublicRoutes registers the trial routes.
func (h *TrialHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.POST("/trial/validate", h.Validate)
}

// TrialResponse is the response for the trial endpoint.
type TrialResponse struct {
	Success     bool       `json:"success"`
	TrialActive bool       `json:"trial_active"`
	FirstUse    bool       `json:"first_use"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// TrialExpiredResponse is the 403 body for an ended trial.
type TrialExpiredResponse struct {
	ErrorResponse
	TrialActive bool `json:"trial_active"`
}

// Validate starts a device trial on first use or checks that it is still running.
// POST /trial/validate
func (h *TrialHandler) Validate(c *gin.Context) {
	var req TrialRequest
	if !bindBody(c, &req, req.required) {
		return
	}

	res, err := h.trials.Validate(c.Request.Context(), trial.Request{
		DeviceID: req.DeviceID,
		OrgID:    req.OrgID,
		Metadata: clientMetadata(c, req.Hostname, req.OS, req.AppVersion),
	})
	if err != nil {
		code := seat.CodeOf(err)
		h.recordMetric(code)
		if errors.Is(err, trial.ErrTrialExpired) {
			h.record(c, models.NewAuditLog(models.AuditActionTrialValidateFail, models.AuditEntityDevice, req.DeviceID).
				WithPayload(map[string]any{"reason": string(code)}))
			c.JSON(http.StatusForbidden, TrialExpiredResponse{
				ErrorResponse: ErrorResponse{Error: trial.ErrTrialExpired.Message, Code: string(code)},
			})
			return
		}
		h.logger.Error().Err(err).Str("device_id", req.DeviceID).Msg("trial validation failed")
		writeDecisionError(c, err)
		return
	}

	h.recordMetric("")
	if res.FirstUse {
		payload := map[string]any{"org_id": req.OrgID}
		if res.ExpiresAt != nil {
			payload["expires_at"] = res.ExpiresAt.UTC().Format(time.RFC3339)
		}
		h.record(c, models.NewAuditLog(models.AuditActionTrialStart, models.AuditEntityDevice, req.DeviceID).
			WithPayload(payload))
	}

	c.JSON(http.StatusOK, TrialResponse{
		Success:     true,
		TrialActive: true,
		FirstUse:    res.FirstUse,
		ExpiresAt:   res.ExpiresAt,
	})
}

func (h *TrialHandler) recordMetric(code seat.Code) {
	if h.metrics != nil {
		h.metrics.RecordTrial(code)
	}
}

func (h *TrialHandler) record(c *gin.Context, entry *models.AuditLog) {
	if h.audit == nil {
		return
	}
	h.audit.Record(entry.WithClientIP(c.ClientIP()))
}
