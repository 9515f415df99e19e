package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/app"
	_ "github.com/osvaldoandrade/fpilot/pkg/auth/jwks"
	_ "github.com/osvaldoandrade/fpilot/pkg/auth/static"
	"github.com/osvaldoandrade/fpilot/pkg/config"
	_ "github.com/osvaldoandrade/fpilot/pkg/gateway/gemini"
	_ "github.com/osvaldoandrade/fpilot/pkg/gateway/openai"
	_ "github.com/osvaldoandrade/fpilot/pkg/gateway/static"
	_ "github.com/osvaldoandrade/fpilot/pkg/persistence/memory"
	_ "github.com/osvaldoandrade/fpilot/pkg/persistence/redis"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfgPath := getenv("FPILOT_CONFIG_PATH", "")

	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	app.SetupMappings(application)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		application.Logger.Info("listening", "addr", addr, "provider", application.Backend.Name(), "store", cfg.Persistence.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	// Background runs get the rest of the grace period; then they are
	// cancelled and recorded as such.
	if err := application.Shutdown(ctx); err != nil {
		application.Logger.Warn("shutdown", "err", err)
	}
}
