package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handler "github.com/Frozertiru-gif/Kina/api"
	"github.com/Frozertiru-gif/Kina/internal/app"
	"github.com/Frozertiru-gif/Kina/internal/config"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
)

var version = "dev"

func main() {
	klog.Configure(klog.Config{Service: "kina-bridge", Version: version})
	cfg, err := config.Load(os.Getenv("KINA_CONFIG"))
	if err != nil {
		logger := klog.Base()
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	klog.Reset()
	klog.Configure(klog.Config{Level: cfg.Log.Level, Service: "kina-bridge", Version: version})
	logger := klog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("start client core")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("close storage")
		}
	}()

	srv := handler.NewServer(a, handler.Options{
		StaticDir:     cfg.Server.StaticDir,
		RatePerMinute: cfg.Server.RatePerMinute,
		AdCountdown:   cfg.Ads.Countdown,
	})
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info().Msg("server stopped")
}
