package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AnTengye/contractdesk/pkg/metrics"
)

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := metrics.NewBackend()
	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/api/contract/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/api/contract/a", "/api/contract/b", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	// One series for the route pattern, one for unmatched paths.
	n, err := testutil.GatherAndCount(m.Registry(), "contractdesk_http_request_duration_seconds")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 series, got %d", n)
	}
}
