package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyedLimiter_Allow(t *testing.T) {
	kl := NewKeyedLimiter(rate.Every(time.Hour), 1, time.Minute)
	if !kl.Allow("a") {
		t.Fatal("Allow(a) first call = false, want true")
	}
	if kl.Allow("a") {
		t.Error("Allow(a) second call = true, want false")
	}
	if !kl.Allow("b") {
		t.Error("Allow(b) = false, want true (independent bucket)")
	}
	if kl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", kl.Len())
	}
}

func TestKeyedLimiter_Sweep(t *testing.T) {
	kl := NewKeyedLimiter(rate.Every(time.Second), 1, time.Minute)
	kl.Allow("a")
	kl.sweep(time.Now().Add(2 * time.Minute))
	if kl.Len() != 0 {
		t.Errorf("Len() after sweep = %d, want 0", kl.Len())
	}
	kl.Stop()
	kl.Stop()
}

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(NewKeyedLimiter(rate.Every(time.Hour), 2, time.Minute)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		env    string
		origin string
		host   string
		want   string
	}{
		{"dev allows any", "dev", "http://evil.test", "chat.test", "http://evil.test"},
		{"prod same host", "prod", "https://chat.test", "chat.test", "https://chat.test"},
		{"prod substring rejected", "prod", "https://chat.test.evil.io", "chat.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.env))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Host = tt.host
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "upstream-1" {
		t.Errorf("request id = %q, want upstream-1", got)
	}
}
