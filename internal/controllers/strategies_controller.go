package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/internal/middleware"
	"github.com/osvaldoandrade/fpilot/internal/services"
)

type strategiesController struct{ svc services.StrategyService }

func NewStrategiesController(svc services.StrategyService) *strategiesController {
	return &strategiesController{svc: svc}
}

func (h *strategiesController) Create(c *gin.Context) {
	var req services.CreateStrategyRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.svc.Create(c.Request.Context(), middleware.Owner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *strategiesController) Get(c *gin.Context) {
	st, err := h.svc.Get(c.Request.Context(), middleware.Owner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *strategiesController) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), middleware.Owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

func (h *strategiesController) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.Owner(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *strategiesController) Generate(c *gin.Context) {
	var req services.GenerateStrategyRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Generate(c.Request.Context(), middleware.Owner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Strategy != nil {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *strategiesController) Optimize(c *gin.Context) {
	var req services.OptimizeStrategyRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Optimize(c.Request.Context(), middleware.Owner(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *strategiesController) Export(c *gin.Context) {
	url, err := h.svc.Export(c.Request.Context(), middleware.Owner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
