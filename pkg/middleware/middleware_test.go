package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestConnectionScopeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		name      string
		header    string
		defaultID string
		want      string
	}{
		{name: "header wins", header: "conn-a", defaultID: "conn-default", want: "conn-a"},
		{name: "falls back to default", header: "", defaultID: "conn-default", want: "conn-default"},
		{name: "empty when no default", header: "", defaultID: "", want: ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(ConnectionScopeMiddleware(func() string { return tc.defaultID }))

			var got string
			router.GET("/", func(c *gin.Context) {
				got = c.GetString(ConnectionIDKey)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(ConnectionIDHeader, tc.header)
			}
			router.ServeHTTP(httptest.NewRecorder(), req)

			if got != tc.want {
				t.Fatalf("connection scope = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestIDMiddlewarePreservesExisting(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q, want req-123", got)
	}
}
