package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newLimitedRouter(t *testing.T, requests int64) *gin.Engine {
	t.Helper()
	mw, err := NewRateLimiter(RateLimitConfig{Requests: requests, Period: time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.POST("/license/validate", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return r
}

func doPost(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/license/validate", nil)
	req.RemoteAddr = remoteAddr
	r.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiter(t *testing.T) {
	t.Run("invalid requests", func(t *testing.T) {
		if _, err := NewRateLimiter(RateLimitConfig{Requests: 0, Period: time.Minute}, zerolog.Nop()); err == nil {
			t.Fatal("expected error for zero requests")
		}
	})

	t.Run("invalid period", func(t *testing.T) {
		if _, err := NewRateLimiter(RateLimitConfig{Requests: 10}, zerolog.Nop()); err == nil {
			t.Fatal("expected error for zero period")
		}
	})

	t.Run("requests within limit succeed", func(t *testing.T) {
		r := newLimitedRouter(t, 5)
		for i := 0; i < 5; i++ {
			if w := doPost(r, "127.0.0.1:12345"); w.Code != http.StatusOK {
				t.Fatalf("request %d: expected status 200, got %d", i+1, w.Code)
			}
		}
	})

	t.Run("requests exceeding limit rejected", func(t *testing.T) {
		r := newLimitedRouter(t, 2)
		for i := 0; i < 2; i++ {
			doPost(r, "10.0.0.1:12345")
		}

		w := doPost(r, "10.0.0.1:12345")
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status 429, got %d", w.Code)
		}

		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if body["success"] != false || body["code"] != "RateLimited" {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("limits are per client IP", func(t *testing.T) {
		r := newLimitedRouter(t, 1)
		if w := doPost(r, "10.0.0.2:1"); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w := doPost(r, "10.0.0.3:1"); w.Code != http.StatusOK {
			t.Fatalf("expected 200 for a different client, got %d", w.Code)
		}
	})
}
