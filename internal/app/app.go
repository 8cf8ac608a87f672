// Package app wires the client core together: storage, session, host
// identity, auth gate, API client and watch flow.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Frozertiru-gif/Kina/internal/authgate"
	"github.com/Frozertiru-gif/Kina/internal/config"
	"github.com/Frozertiru-gif/Kina/internal/identity"
	"github.com/Frozertiru-gif/Kina/internal/kina"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
	"github.com/Frozertiru-gif/Kina/internal/prefs"
	"github.com/Frozertiru-gif/Kina/internal/session"
	"github.com/Frozertiru-gif/Kina/internal/tg"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

// App is one running client.
type App struct {
	Config   config.Config
	Store    prefs.Store
	Session  *session.Session
	Native   *identity.NativeChannel
	Launch   *identity.LaunchURL
	Resolver *identity.Resolver
	Gate     *authgate.Gate
	Client   *kina.Client
	Flow     *watchflow.Flow

	logger zerolog.Logger
}

// New opens the configured store and builds every component. store may be
// nil, in which case cfg.Storage selects one.
func New(ctx context.Context, cfg config.Config, store prefs.Store) (*App, error) {
	logger := klog.WithComponent("app")
	if store == nil {
		var err error
		store, err = prefs.Open(ctx, prefs.Options{
			Backend:       cfg.Storage.Backend,
			Path:          cfg.Storage.Path,
			Device:        cfg.Storage.Device,
			RedisAddr:     cfg.Storage.Redis.Addr,
			RedisPassword: cfg.Storage.Redis.Password,
			RedisDB:       cfg.Storage.Redis.DB,
			MongoURI:      cfg.Storage.Mongo.URI,
			MongoDatabase: cfg.Storage.Mongo.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	sess, err := session.New(ctx, store, cfg.DevUserID)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Session: sess,
		Native:  &identity.NativeChannel{},
		Launch:  identity.NewLaunchURL(""),
		Gate:    authgate.New(),
		logger:  logger,
	}
	a.Resolver = identity.NewResolver(a.Native, a.Launch.Query(), a.Launch.Fragment(), identity.Options{
		Attempts:   cfg.Identity.Attempts,
		Delay:      cfg.Identity.Delay,
		OnResolved: a.captureReferral,
	})
	a.Client = kina.NewClient(kina.Config{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       cfg.API.Timeout,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
	}, sess, a.Resolver, a.Gate)
	a.Flow = watchflow.New(a.Client, store)

	logger.Info().
		Str("api_base", cfg.API.BaseURL).
		Str("storage", cfg.Storage.Backend).
		Bool("token_loaded", sess.Token() != "").
		Bool("dev_user", sess.DevUserID() != "").
		Msg("client core ready")
	return a, nil
}

// captureReferral stores a ref_<code> start parameter as the pending referral.
func (a *App) captureReferral(ctx context.Context, id identity.HostIdentity) {
	data, err := tg.ParseInitData(id.InitData)
	if err != nil {
		return
	}
	code := tg.ReferralCode(data.StartParam)
	if code == "" {
		return
	}
	if err := a.Session.RememberReferral(ctx, code); err != nil {
		a.logger.Warn().Err(err).Msg("store referral code")
		return
	}
	a.logger.Debug().Str("provenance", string(id.Provenance)).Msg("referral code captured")
}

// SignIn reads the host identity and authenticates with it. When the server
// rejects the identity itself, the sources are read once more and the
// exchange is retried a single time with the new data.
func (a *App) SignIn(ctx context.Context) (*session.User, error) {
	id := a.Resolver.Current()
	if id.Empty() || a.Resolver.Stale(a.Config.Identity.MaxAge) {
		id = a.Resolver.Refresh(ctx)
	}
	a.logger.Debug().Interface("identity", a.Resolver.Describe()).Msg("signing in")

	user, err := a.Client.Authenticate(ctx)
	if err == nil || !kina.IsInitDataRejection(kina.CodeOf(err)) {
		return user, err
	}

	fresh := a.Resolver.Refresh(ctx)
	if fresh.Empty() || fresh.InitData == id.InitData {
		return nil, err
	}
	a.logger.Info().Str("reason", kina.CodeOf(err)).Msg("identity rejected, retrying with refreshed data")
	return a.Client.Authenticate(ctx)
}

// SetLaunch records the launch URL and any native init data the view reported.
func (a *App) SetLaunch(launchURL, nativeInitData string) {
	if launchURL != "" {
		a.Launch.Set(launchURL)
	}
	if nativeInitData != "" {
		a.Native.Publish(nativeInitData)
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// AuthMissing reports whether err means no identity was available at all.
func AuthMissing(err error) bool {
	return errors.Is(err, kina.ErrIdentityUnavailable) || errors.Is(err, authgate.ErrAuthMissing)
}
