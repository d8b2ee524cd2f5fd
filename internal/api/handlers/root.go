package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VersionInfo contains server version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// RootResponse describes the service at GET /.
type RootResponse struct {
	Service   string      `json:"service"`
	Status    string      `json:"status"`
	Version   VersionInfo `json:"version"`
	Health    string      `json:"health"`
	Endpoints []string    `json:"endpoints"`
}

// Endpoints lists the routes served by seatkeeper.
var Endpoints = []string{
	"POST /license/validate",
	"POST /license/heartbeat",
	"POST /license/release",
	"POST /trial/validate",
	"GET /health",
	"GET /metrics",
}

// RootHandler serves the service descriptor.
type RootHandler struct {
	info VersionInfo
}

// NewRootHandler creates a new RootHandler.
func NewRootHandler(info VersionInfo) *RootHandler {
	return &RootHandler{info: info}
}

// RegisterPublicRoutes registers the descriptor and favicon routes.
func (h *RootHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/", h.Get)
	r.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

// Get returns the service descriptor.
// GET /
func (h *RootHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, RootResponse{
		Service:   ServiceName,
		Status:    "running",
		Version:   h.info,
		Health:    "/health",
		Endpoints: Endpoints,
	})
}

// NotFound is the JSON handler for unknown routes.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found"})
}
