package statserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
)

// Volumes renders the process-wide statistics report as plain text.
func (h *APIStore) Volumes(c *gin.Context) {
	c.String(http.StatusOK, h.store.Report().String())
}

type HealthResponse struct {
	Status     string `json:"status"`
	TargetType string `json:"target_type"`
	Version    string `json:"version"`
	Targets    int    `json:"targets"`
}

func (h *APIStore) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		TargetType: proxy.Type.Name,
		Version:    proxy.Type.VersionString(),
		Targets:    len(h.registry.List()),
	})
}
