package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fail"})
	})

	t.Run("successful request", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test?q=hello", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if !strings.Contains(buf.String(), `"level":"info"`) || !strings.Contains(buf.String(), `"path":"/test"`) {
			t.Fatalf("unexpected log line: %s", buf.String())
		}
	})

	t.Run("server error logged at error level", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/error", nil)
		r.ServeHTTP(w, req)

		if !strings.Contains(buf.String(), `"level":"error"`) {
			t.Fatalf("expected error level, got: %s", buf.String())
		}
	})

	t.Run("license key in query is redacted", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test?license_id=LIC-SECRET-1", nil)
		r.ServeHTTP(w, req)

		if strings.Contains(buf.String(), "LIC-SECRET-1") {
			t.Fatalf("license key leaked into log: %s", buf.String())
		}
	})
}

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"q=hello", "q=hello"},
		{"license_id=abc&q=1", "license_id=%5BREDACTED%5D&q=1"},
		{"%zz", "%zz"},
	}
	for _, tt := range tests {
		if got := redactQueryString(tt.in); got != tt.want {
			t.Errorf("redactQueryString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
