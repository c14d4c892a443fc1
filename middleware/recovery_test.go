package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/contractdesk/pkg/logger"
)

func TestRecoveryEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger.Init(&logger.Config{Level: "error", Format: "text", Output: &buf})

	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery())
	router.POST("/contract/upload", func(c *gin.Context) {
		TagExecution(c, "exec-7")
		panic("pipeline exploded")
	})
	router.GET("/contracts", func(c *gin.Context) {
		c.JSON(http.StatusOK, []string{})
	})

	req := httptest.NewRequest("POST", "/contract/upload", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	var body struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body.Success || body.Error != "Internal server error" || body.RequestID != "req-42" {
		t.Errorf("Unexpected body %+v", body)
	}

	logged := buf.String()
	for _, want := range []string{"panic recovered", "request_id=req-42", "execution_id=exec-7", "pipeline exploded"} {
		if !strings.Contains(logged, want) {
			t.Errorf("Expected %q in log, got %s", want, logged)
		}
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/contracts", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after a recovered panic, got %d", w.Code)
	}
}

func TestRecoveryAfterResponseStarted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger.Init(&logger.Config{Level: "error", Output: &bytes.Buffer{}})

	router := gin.New()
	router.Use(Recovery())
	router.GET("/reports/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "{")
		panic("report truncated")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/reports/exec-1", nil))

	if w.Code != http.StatusOK || w.Body.String() != "{" {
		t.Errorf("Expected partial response to be left alone, got %d %q", w.Code, w.Body.String())
	}
}
