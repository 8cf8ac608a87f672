// Command kina is a terminal client for the Kina backend. It runs the same
// client core as the bridge: identity, sign-in, watch flow and catalog calls.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Frozertiru-gif/Kina/internal/app"
	"github.com/Frozertiru-gif/Kina/internal/config"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
)

var version = "dev"

var (
	configPath string
	initData   string
	launchURL  string
	devUserID  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "kina",
	Short:         "Kina client",
	Long:          "Sign in to the Kina backend, browse the catalog and send titles to the bot chat.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("KINA_CONFIG"), "path to a YAML config file")
	pf.StringVar(&initData, "init-data", "", "raw Telegram init data to sign in with")
	pf.StringVar(&launchURL, "launch-url", "", "launch URL carrying tgWebAppData in its query or fragment")
	pf.StringVar(&devUserID, "dev-user-id", "", "development user id sent as X-Dev-User-Id")
	pf.StringVar(&logLevel, "log-level", "", "log level (overrides config)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if devUserID != "" {
		cfg.DevUserID = devUserID
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openApp builds the client core for one command invocation. The caller
// closes it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	klog.Reset()
	klog.Configure(klog.Config{Level: cfg.Log.Level, Output: cmd.ErrOrStderr(), Service: "kina", Version: version})
	a, err := app.New(cmd.Context(), cfg, nil)
	if err != nil {
		return nil, err
	}
	a.SetLaunch(launchURL, initData)
	return a, nil
}

// withSignIn opens the core, signs in and runs fn.
func withSignIn(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.SignIn(cmd.Context()); err != nil {
		switch {
		case app.AuthMissing(err) && a.Session.DevUserID() != "":
			// requests carry X-Dev-User-Id instead
		case app.AuthMissing(err):
			return fmt.Errorf("no Telegram identity: pass --init-data, --launch-url or --dev-user-id")
		default:
			return fmt.Errorf("sign in: %w", err)
		}
	}
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
