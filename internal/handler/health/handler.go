// Package health serves the load balancer, heartbeat and version endpoints.
package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is usable.
type Check func() error

// Handler manages health check endpoints
type Handler struct {
	checks      map[string]Check
	versionFile string
}

// NewHandler creates a new health check handler. checks are run by
// Heartbeat; versionFile is served by Version.
func NewHandler(versionFile string, checks map[string]Check) *Handler {
	return &Handler{checks: checks, versionFile: versionFile}
}

// LBHeartbeat is the liveness probe endpoint
// GET /__lbheartbeat__
func (h *Handler) LBHeartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Heartbeat is the readiness probe endpoint
// GET /__heartbeat__
func (h *Handler) Heartbeat(c *gin.Context) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = "error"
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "error"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"checks": results,
	})
}

// Version serves the deployment's version file
// GET /__version__
func (h *Handler) Version(c *gin.Context) {
	raw, err := os.ReadFile(h.versionFile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "could not read version file",
		})
		return
	}
	if !json.Valid(raw) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "version file is not valid JSON",
		})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// ErrNotReady is returned by readiness checks that fail.
var ErrNotReady = errors.New("not ready")

// ReadyCheck adapts a boolean readiness signal to a Check.
func ReadyCheck(name string, ready func() bool) Check {
	return func() error {
		if !ready() {
			return fmt.Errorf("%s: %w", name, ErrNotReady)
		}
		return nil
	}
}
