package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/internal/middleware"
	"github.com/osvaldoandrade/fpilot/internal/services"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
)

type signalsController struct{ svc services.SignalService }

func NewSignalsController(svc services.SignalService) *signalsController {
	return &signalsController{svc: svc}
}

func (h *signalsController) Handle(c *gin.Context) {
	var req services.SignalRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.GenerateSignal(c.Request.Context(), middleware.Owner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type backtestsController struct{ svc services.BacktestService }

func NewBacktestsController(svc services.BacktestService) *backtestsController {
	return &backtestsController{svc: svc}
}

func (h *backtestsController) Run(c *gin.Context) {
	var req services.BacktestRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Run(c.Request.Context(), middleware.Owner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *backtestsController) Compare(c *gin.Context) {
	var req services.CompareRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Compare(c.Request.Context(), middleware.Owner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type profileController struct{ svc services.ProfileService }

func NewProfileController(svc services.ProfileService) *profileController {
	return &profileController{svc: svc}
}

func (h *profileController) Get(c *gin.Context) {
	settings, err := h.svc.GetRiskSettings(c.Request.Context(), middleware.Owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *profileController) Put(c *gin.Context) {
	var req domain.RiskSettings
	if !bindJSON(c, &req) {
		return
	}
	settings, err := h.svc.SaveRiskSettings(c.Request.Context(), middleware.Owner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
