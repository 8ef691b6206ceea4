package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health answers the root probe with service identity and time, for
// load balancers and the dashboard's connectivity check.
func Health(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"message":   "Competitive Intelligence Platform API",
			"version":   version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
