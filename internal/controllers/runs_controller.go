package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/internal/middleware"
	"github.com/osvaldoandrade/fpilot/internal/services"
)

type runReq struct {
	Input   map[string]any `json:"input"`
	Webhook string         `json:"webhook,omitempty"`
}

type runsController struct{ svc services.RunService }

func NewRunsController(svc services.RunService) *runsController {
	return &runsController{svc: svc}
}

// Run executes a task synchronously and answers with the task output.
func (h *runsController) Run(c *gin.Context) {
	var req runReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Webhook != "" {
		badRequest(c, "webhook is only accepted for asynchronous runs")
		return
	}
	rec, err := h.svc.Run(c.Request.Context(), middleware.Owner(c), c.Param("task"), inputOrEmpty(req.Input))
	if err != nil {
		if rec != nil {
			c.Header("X-Run-Id", rec.ID)
		}
		writeError(c, err)
		return
	}
	c.Header("X-Run-Id", rec.ID)
	c.JSON(http.StatusOK, rec)
}

// Submit records a PENDING run and executes it in the background.
func (h *runsController) Submit(c *gin.Context) {
	var req runReq
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.svc.Submit(c.Request.Context(), middleware.Owner(c), c.Param("task"), inputOrEmpty(req.Input), req.Webhook)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/v1/fpilot/runs/"+rec.ID)
	c.JSON(http.StatusAccepted, rec)
}

func (h *runsController) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), middleware.Owner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *runsController) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid 'limit'")
			return
		}
		limit = n
	}
	recs, err := h.svc.List(c.Request.Context(), middleware.Owner(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": recs})
}

func inputOrEmpty(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
