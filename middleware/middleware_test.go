package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ws/:credential/:device_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func serve(r *gin.Engine, path, origin string) int {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestOrigin(t *testing.T) {
	r := newEngine(Origin([]string{"https://app.example.com/"}))
	cases := []struct {
		origin string
		want   int
	}{
		{"", http.StatusNoContent},
		{"https://app.example.com", http.StatusNoContent},
		{"https://APP.example.com", http.StatusNoContent},
		{"https://evil.example.com", http.StatusForbidden},
	}
	for _, tc := range cases {
		if got := serve(r, "/ws/tok/dev", tc.origin); got != tc.want {
			t.Errorf("origin %q: status %d, want %d", tc.origin, got, tc.want)
		}
	}

	open := newEngine(Origin(nil))
	if got := serve(open, "/ws/tok/dev", "https://evil.example.com"); got != http.StatusNoContent {
		t.Fatalf("empty allow list should pass, got %d", got)
	}
}

func TestManagerOrderAndAbort(t *testing.T) {
	m := NewManager()
	var order []string
	m.Add("a", func(c *gin.Context) { order = append(order, "a") })
	m.Add("b", func(c *gin.Context) { order = append(order, "b") })
	m.Add("a", func(c *gin.Context) { order = append(order, "a2") })

	r := newEngine(m.Use())
	serve(r, "/ws/tok/dev", "")
	if len(order) != 2 || order[0] != "a2" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}

	m.Add("deny", func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) })
	if got := serve(r, "/ws/tok/dev", ""); got != http.StatusTeapot {
		t.Fatalf("abort not honoured: %d", got)
	}
	m.Remove("deny")
	if names := m.Names(); len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
}

func TestRecoveryAndRedact(t *testing.T) {
	r := newEngine(RequestLog(), Recovery())
	if got := serve(r, "/panic", ""); got != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", got)
	}
	if got := redactPath("/ws/secret-token/dev-1"); got != "/ws/***/dev-1" {
		t.Fatalf("redact = %s", got)
	}
	if got := redactPath("/healthz"); got != "/healthz" {
		t.Fatalf("redact = %s", got)
	}
}
