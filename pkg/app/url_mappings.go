package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osvaldoandrade/fpilot/internal/controllers"
	"github.com/osvaldoandrade/fpilot/internal/middleware"
	"github.com/osvaldoandrade/fpilot/pkg/auth"
)

func SetupMappings(app *Application) {
	health := controllers.NewHealthController(app.Store, app.Registry, app.Backend.Name())
	app.Engine.GET("/healthz", health.Live)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1/fpilot")
	user := v1.Group("", middleware.AuthMiddleware(app.Validator, auth.ScopeRun))
	limited := func(op string) gin.HandlerFunc {
		return middleware.RateLimitRuns(app.RateLimiter, app.Config, op)
	}
	{
		flows := controllers.NewFlowsController(app.Registry)
		user.GET("/flows", flows.List)
		user.GET("/flows/:task", flows.Describe)

		runs := controllers.NewRunsController(app.Runs)
		user.POST("/flows/:task/run", limited("run"), runs.Run)
		user.POST("/flows/:task/runs", limited("submit"), runs.Submit)
		user.GET("/runs", runs.List)
		user.GET("/runs/:id", runs.Get)

		strategies := controllers.NewStrategiesController(app.Strategies)
		user.GET("/strategies", strategies.List)
		user.POST("/strategies", strategies.Create)
		user.POST("/strategies/generate", limited("generate_strategy"), strategies.Generate)
		user.GET("/strategies/:id", strategies.Get)
		user.DELETE("/strategies/:id", strategies.Delete)
		user.POST("/strategies/:id/optimize", limited("optimize_strategy"), strategies.Optimize)
		user.POST("/strategies/:id/export", strategies.Export)

		user.POST("/signals", limited("signal"), controllers.NewSignalsController(app.Signals).Handle)

		backtests := controllers.NewBacktestsController(app.Backtests)
		user.POST("/backtests", limited("backtest"), backtests.Run)
		user.POST("/backtests/compare", limited("compare_backtests"), backtests.Compare)

		profile := controllers.NewProfileController(app.Profiles)
		user.GET("/profile/risk", profile.Get)
		user.PUT("/profile/risk", profile.Put)

		admin := user.Group("/admin", middleware.RequireAdmin())
		admin.GET("/health", health.Detail)
	}
}
