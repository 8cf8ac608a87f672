// Command local runs the bridge for frontend development: it reads .env,
// logs at debug level and can stand in for the Telegram host by publishing
// init data from KINA_LOCAL_INIT_DATA.
package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	handler "github.com/Frozertiru-gif/Kina/api"
	"github.com/Frozertiru-gif/Kina/internal/app"
	"github.com/Frozertiru-gif/Kina/internal/config"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
)

func main() {
	klog.Configure(klog.Config{Service: "kina-local", Version: "local"})
	boot := klog.Base()
	if err := config.LoadDotEnv(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		boot.Warn().Err(err).Msg("read .env")
	}

	cfg, err := config.Load(os.Getenv("KINA_CONFIG"))
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	if os.Getenv("KINA_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "debug"
	}
	klog.Reset()
	klog.Configure(klog.Config{Level: cfg.Log.Level, Service: "kina-local", Version: "local"})
	logger := klog.WithComponent("local")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("start client core")
	}
	defer a.Close()

	if raw := strings.TrimSpace(os.Getenv("KINA_LOCAL_INIT_DATA")); raw != "" {
		a.SetLaunch("", raw)
		logger.Info().Msg("publishing local init data as native identity")
	}

	srv := handler.NewServer(a, handler.Options{
		StaticDir:     cfg.Server.StaticDir,
		RatePerMinute: cfg.Server.RatePerMinute,
		AdCountdown:   cfg.Ads.Countdown,
	})
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Server.Listen).Str("api", cfg.API.BaseURL).Str("static", cfg.Server.StaticDir).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
