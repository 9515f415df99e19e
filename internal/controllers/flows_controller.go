package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

type flowDescription struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

type flowsController struct{ registry *flow.Registry }

func NewFlowsController(registry *flow.Registry) *flowsController {
	return &flowsController{registry: registry}
}

func (h *flowsController) List(c *gin.Context) {
	contracts := h.registry.Contracts()
	out := make([]flowDescription, 0, len(contracts))
	for _, ct := range contracts {
		out = append(out, flowDescription{Name: ct.Name, Description: ct.Description})
	}
	c.JSON(http.StatusOK, gin.H{"flows": out})
}

func (h *flowsController) Describe(c *gin.Context) {
	ct, err := h.registry.Get(c.Param("task"))
	if err != nil {
		writeError(c, &flow.RunError{Task: c.Param("task"), Stage: flow.StageLookup, Err: err})
		return
	}
	c.JSON(http.StatusOK, flowDescription{
		Name:         ct.Name,
		Description:  ct.Description,
		InputSchema:  schema.JSONSchema(ct.Input),
		OutputSchema: schema.JSONSchema(ct.Output),
	})
}
