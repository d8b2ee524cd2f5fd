package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type mockDatabaseHealthChecker struct {
	pingErr error
	health  map[string]any
}

func (m *mockDatabaseHealthChecker) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockDatabaseHealthChecker) Health() map[string]any {
	if m.health != nil {
		return m.health
	}
	return map[string]any{}
}

type fakeDrain bool

func (d fakeDrain) IsDraining() bool { return bool(d) }

func setupHealthTestRouter(db DatabaseHealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(db, zerolog.Nop()).RegisterPublicRoutes(r)
	return r
}

func getHealth(t *testing.T, r *gin.Engine) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	return w.Code, resp
}

func TestHealthOverall(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		code, resp := getHealth(t, setupHealthTestRouter(&mockDatabaseHealthChecker{
			health: map[string]any{"total_conns": 10},
		}))
		if code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", code)
		}
		if resp.Status != HealthStatusOK || resp.Service != ServiceName {
			t.Fatalf("unexpected response: %+v", resp)
		}
		if resp.Checks["database"].Details["total_conns"] == nil {
			t.Fatal("expected pool stats in database check")
		}
	})

	t.Run("database unhealthy", func(t *testing.T) {
		code, resp := getHealth(t, setupHealthTestRouter(&mockDatabaseHealthChecker{
			pingErr: errors.New("connection refused"),
		}))
		if code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", code)
		}
		if resp.Status != HealthStatusUnhealthy {
			t.Fatalf("expected unhealthy, got %q", resp.Status)
		}
		if resp.Checks["database"].Error != "database ping failed" {
			t.Fatalf("unexpected error: %q", resp.Checks["database"].Error)
		}
	})

	t.Run("no database configured", func(t *testing.T) {
		code, resp := getHealth(t, setupHealthTestRouter(nil))
		if code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", code)
		}
		if resp.Checks["database"].Details["configured"] != false {
			t.Fatalf("expected configured=false, got %+v", resp.Checks["database"])
		}
	})

	t.Run("draining", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		r := gin.New()
		h := NewHealthHandler(&mockDatabaseHealthChecker{}, zerolog.Nop())
		h.SetDrainState(fakeDrain(true))
		h.RegisterPublicRoutes(r)

		code, resp := getHealth(t, r)
		if code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", code)
		}
		if resp.Status != HealthStatusDraining {
			t.Fatalf("expected draining, got %q", resp.Status)
		}
	})
}
