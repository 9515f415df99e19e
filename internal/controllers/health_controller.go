package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
)

type healthController struct {
	store    persistence.PluginPersistence
	registry *flow.Registry
	provider string
}

func NewHealthController(store persistence.PluginPersistence, registry *flow.Registry, provider string) *healthController {
	return &healthController{store: store, registry: registry, provider: provider}
}

// Live answers the liveness probe without touching dependencies.
func (h *healthController) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Detail reports store health and the serving configuration.
func (h *healthController) Detail(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, storeStatus := http.StatusOK, "ok"
	if err := h.store.Health(ctx); err != nil {
		status, storeStatus = http.StatusServiceUnavailable, err.Error()
	}
	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"store":    storeStatus,
		"provider": h.provider,
		"flows":    len(h.registry.Names()),
	})
}
