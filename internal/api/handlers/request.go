// Package handlers implements the Seatkeeper HTTP endpoints.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MacJediWizard/seatkeeper/internal/models"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/MacJediWizard/seatkeeper/internal/trial"
	"github.com/gin-gonic/gin"
)

const errInvalidBody = "Invalid or missing JSON body"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// LicenseRequest is the body of the /license endpoints.
type LicenseRequest struct {
	LicenseID  string `json:"license_id"`
	OrgID      string `json:"org_id"`
	DeviceID   string `json:"device_id"`
	Hostname   string `json:"hostname"`
	OS         string `json:"os"`
	AppVersion string `json:"app_version"`
}

// TrialRequest is the body of /trial/validate.
type TrialRequest struct {
	DeviceID   string `json:"device_id"`
	OrgID      string `json:"org_id"`
	Hostname   string `json:"hostname"`
	OS         string `json:"os"`
	AppVersion string `json:"app_version"`
}

type requiredField struct {
	name  string
	value string
}

// bindBody decodes a JSON object into dst and checks that the required
// fields are non-empty. On failure it writes a 400 and returns false.
func bindBody(c *gin.Context, dst any, required func() []requiredField) bool {
	if c.ContentType() != gin.MIMEJSON {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errInvalidBody})
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errInvalidBody})
		return false
	}

	var missing []string
	for _, f := range required() {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields: " + strings.Join(missing, ", ")})
		return false
	}
	return true
}

func (r *LicenseRequest) required() []requiredField {
	return []requiredField{
		{"license_id", r.LicenseID},
		{"org_id", r.OrgID},
		{"device_id", r.DeviceID},
	}
}

func (r *TrialRequest) required() []requiredField {
	return []requiredField{{"device_id", r.DeviceID}}
}

func clientMetadata(c *gin.Context, hostname, os, appVersion string) models.ClientMetadata {
	return models.ClientMetadata{
		Hostname:   hostname,
		OS:         os,
		AppVersion: appVersion,
		ClientIP:   c.ClientIP(),
	}
}

// statusForCode maps a decision failure to its HTTP status.
func statusForCode(code seat.Code) int {
	switch code {
	case seat.CodeNotFound:
		return http.StatusNotFound
	case seat.CodeTransientStorage:
		return http.StatusServiceUnavailable
	case seat.CodeOrgMismatch, seat.CodeInactive, seat.CodeExpired,
		seat.CodeSeatLimitExceeded, seat.CodeNoAllocation, trial.CodeTrialExpired:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeDecisionError writes the client-facing form of err. Internal details
// never reach the client.
func writeDecisionError(c *gin.Context, err error) {
	code := seat.CodeOf(err)
	msg := seat.ErrTransientStorage.Message
	var de *seat.Error
	if errors.As(err, &de) {
		msg = de.Message
	}
	c.JSON(statusForCode(code), ErrorResponse{Error: msg, Code: string(code)})
}
