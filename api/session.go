package handler

import (
	"net/http"
	"time"

	"github.com/Frozertiru-gif/Kina/internal/identity"
	"github.com/Frozertiru-gif/Kina/internal/kina"
	"github.com/Frozertiru-gif/Kina/internal/session"
)

type launchRequest struct {
	LaunchURL string `json:"launch_url"`
	InitData  string `json:"init_data"` // host-native value, possibly published late
}

type sessionView struct {
	Authenticated bool                 `json:"authenticated"`
	Gate          string               `json:"gate"`
	Reason        string               `json:"reason,omitempty"`
	Message       string               `json:"message,omitempty"`
	User          *userView            `json:"user,omitempty"`
	Identity      identity.Diagnostics `json:"identity"`
}

type userView struct {
	ID            int64      `json:"id"`
	TgUserID      int64      `json:"tg_user_id"`
	Username      string     `json:"username,omitempty"`
	FirstName     string     `json:"first_name,omitempty"`
	PremiumUntil  *time.Time `json:"premium_until,omitempty"`
	PremiumActive bool       `json:"premium_active"`
}

func toUserView(u *session.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:            u.ID,
		TgUserID:      u.TgUserID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		PremiumUntil:  u.PremiumUntil,
		PremiumActive: u.PremiumActive(time.Now()),
	}
}

func (s *Server) session(err error) sessionView {
	state, reason := s.app.Gate.State()
	v := sessionView{
		Authenticated: s.app.Session.User() != nil || s.app.Session.Token() != "",
		Gate:          string(state),
		Reason:        reason,
		User:          toUserView(s.app.Session.User()),
		Identity:      s.app.Resolver.Describe(),
	}
	if err != nil {
		v.Message = kina.UserMessage(err)
	}
	return v
}

// handleLaunch records launch data and signs in. Identity problems are part
// of the returned session, not an error response: the view renders the gate.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.app.SetLaunch(req.LaunchURL, req.InitData)
	s.signIn(w, r)
}

func (s *Server) handleAuthRetry(w http.ResponseWriter, r *http.Request) {
	s.signIn(w, r)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	_, err := s.app.SignIn(detached(r))
	if err != nil {
		s.logger.Warn().Err(err).Msg("sign-in failed")
		kind := kina.KindOf(err)
		if kind != kina.KindAuthMissing && kind != kina.KindAuthRejected {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.session(err))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session(nil))
}
