package kina

import (
	"context"
	"net/http"

	"github.com/Frozertiru-gif/Kina/internal/session"
)

// Authenticate runs one auth attempt against the gate: it resets the gate,
// exchanges the current host identity for a session and marks the outcome.
// With no identity it marks the gate missing without touching the network.
func (c *Client) Authenticate(ctx context.Context) (*session.User, error) {
	c.gate.Reset()

	id := c.identity.Current()
	if id.Empty() {
		c.logger.Warn().Msg("no host identity, auth gate marked missing")
		c.gate.MarkMissing()
		return nil, &Error{Kind: KindAuthMissing, Op: "auth_webapp"}
	}

	ref, err := c.session.PendingReferral(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read pending referral")
		ref = ""
	}

	var out AuthResponse
	err = c.do(ctx, call{
		op:        "auth_webapp",
		method:    http.MethodPost,
		path:      "/auth/webapp",
		body:      authRequest{InitData: id.InitData, Ref: ref},
		anonymous: true,
	}, &out)
	if err != nil {
		if cerr := c.session.ClearToken(ctx); cerr != nil {
			c.logger.Error().Err(cerr).Msg("failed to clear stored token")
		}
		reason := CodeOf(err)
		if reason == "" {
			reason = string(KindOf(err))
		}
		c.gate.MarkFailed(reason)
		return nil, err
	}

	if out.AccessToken != "" {
		if err := c.session.SetToken(ctx, out.AccessToken); err != nil {
			c.gate.MarkFailed("token_store_failed")
			return nil, &Error{Kind: KindTransport, Op: "auth_webapp", Err: err}
		}
	}
	user := out.toUser()
	c.session.SetUser(user)
	if ref != "" {
		if err := c.session.ClearReferral(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("clear applied referral")
		}
	}
	c.gate.MarkReady()
	c.logger.Info().Int64("user_id", user.ID).Bool("token_issued", out.AccessToken != "").Msg("authenticated")
	return user, nil
}

func (a AuthResponse) toUser() *session.User {
	u := &session.User{ID: a.ID, TgUserID: a.TgUserID}
	if a.Username != nil {
		u.Username = *a.Username
	}
	if a.FirstName != nil {
		u.FirstName = *a.FirstName
	}
	if a.PremiumUntil != nil && !a.PremiumUntil.IsZero() {
		t := a.PremiumUntil.Time
		u.PremiumUntil = &t
	}
	return u
}
