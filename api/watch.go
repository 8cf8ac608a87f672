package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Frozertiru-gif/Kina/internal/kina"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// stateView is the JSON shape of a WatchFlowState for the view.
type stateView struct {
	Status       watchflow.Status    `json:"status"`
	Selection    watchflow.Selection `json:"selection"`
	VariantID    int64               `json:"variant_id,omitempty"`
	Message      string              `json:"message,omitempty"`
	RetryAfter   int                 `json:"retry_after,omitempty"`
	AdStarted    bool                `json:"ad_started,omitempty"`
	AdRemainingS float64             `json:"ad_remaining_seconds,omitempty"`
}

func (s *Server) view(st watchflow.State) stateView {
	v := stateView{
		Status:     st.Status,
		Selection:  st.Selection,
		VariantID:  st.VariantID,
		Message:    st.Message,
		RetryAfter: int(st.RetryAfter.Seconds()),
		AdStarted:  st.Nonce != "",
	}
	s.mu.Lock()
	if s.adGate != nil && st.Status == watchflow.StatusAdGate {
		v.AdRemainingS = s.adGate.Remaining().Seconds()
	}
	s.mu.Unlock()
	return v
}

func (s *Server) handleWatchState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view(s.app.Flow.State()))
}

// handleWatchEvents pushes every state change over a WebSocket.
func (s *Server) handleWatchEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	states, cancel := s.app.Flow.Subscribe()

	// Reader: only control frames are expected; a read error means the view left.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug().Err(err).Msg("websocket closed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
	}()
	for {
		select {
		case st, ok := <-states:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(s.view(st)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) stopAdGate() {
	s.mu.Lock()
	s.adGen++
	if s.adGate != nil {
		s.adGate.Stop()
		s.adGate = nil
	}
	s.mu.Unlock()
}

func (s *Server) handleWatchParams(w http.ResponseWriter, r *http.Request) {
	var sel watchflow.Selection
	if !decodeBody(w, r, &sel) {
		return
	}
	if err := s.app.Flow.SetParams(r.Context(), sel); err != nil {
		writeError(w, r, err)
		return
	}
	s.stopAdGate()
	writeJSON(w, http.StatusOK, s.view(s.app.Flow.State()))
}

// handleWatchResolve never fails on a transient error: the view just shows
// no confirmation.
func (s *Server) handleWatchResolve(w http.ResponseWriter, r *http.Request) {
	var sel watchflow.Selection
	if !decodeBody(w, r, &sel) {
		return
	}
	if sel.TitleID <= 0 {
		writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "title_id is required", nil)
		return
	}
	res, err := s.app.Flow.Resolve(r.Context(), sel)
	if err != nil {
		s.logger.Debug().Err(err).Msg("transient resolve failure")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWatchStart(w http.ResponseWriter, r *http.Request) {
	var sel *watchflow.Selection
	if !decodeBody(w, r, &sel) {
		return
	}
	if sel != nil {
		if err := s.app.Flow.SetParams(r.Context(), *sel); err != nil {
			writeError(w, r, err)
			return
		}
	}
	s.stepResult(w, r)(s.app.Flow.Start(detached(r)))
}

// handleAdStart requests an ad nonce and starts the countdown. It is not
// cancelled when the view disconnects mid-call, but no countdown starts if the
// view left the ad while the request was in flight.
func (s *Server) handleAdStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gen := s.adGen
	s.mu.Unlock()

	st, err := s.app.Flow.StartAd(detached(r))
	if err == nil {
		s.mu.Lock()
		if s.adGen == gen {
			if s.adGate != nil {
				s.adGate.Stop()
			}
			s.adGate = watchflow.NewAdGate(s.opts.AdCountdown)
		} else {
			s.logger.Debug().Msg("ad left during start, countdown not started")
		}
		s.mu.Unlock()
	}
	if err != nil && st.Status == watchflow.StatusAdsCooldown {
		// Cooldown is a recoverable state, not a failure of the bridge call.
		writeJSON(w, http.StatusOK, s.view(st))
		return
	}
	s.stepResult(w, r)(st, err)
}

func (s *Server) handleAdComplete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gate := s.adGate
	s.mu.Unlock()
	if gate == nil {
		writeError(w, r, watchflow.ErrGateClosed)
		return
	}
	var st watchflow.State
	err := gate.Continue(func() error {
		var err error
		st, err = s.app.Flow.CompleteAd(detached(r))
		return err
	})
	if errors.Is(err, watchflow.ErrCountdownRunning) || errors.Is(err, watchflow.ErrAlreadyContinued) || errors.Is(err, watchflow.ErrGateClosed) {
		writeError(w, r, err)
		return
	}
	s.stopAdGate()
	s.stepResult(w, r)(st, err)
}

func (s *Server) handleAdSkip(w http.ResponseWriter, r *http.Request) {
	skipped, st, err := s.app.Flow.SkipAdWithPass(detached(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if skipped {
		s.stopAdGate()
	}
	writeJSON(w, http.StatusOK, map[string]any{"skipped": skipped, "state": s.view(st)})
}

// handleAdLeave clears the countdown when the view navigates away from the ad.
func (s *Server) handleAdLeave(w http.ResponseWriter, _ *http.Request) {
	s.stopAdGate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWatchReset(w http.ResponseWriter, r *http.Request) {
	s.stopAdGate()
	s.app.Flow.Reset(r.Context())
	writeJSON(w, http.StatusOK, s.view(s.app.Flow.State()))
}

// stepResult writes the state after a flow step. Failed steps still leave a
// meaningful state, so the error is reported alongside it.
func (s *Server) stepResult(w http.ResponseWriter, r *http.Request) func(watchflow.State, error) {
	return func(st watchflow.State, err error) {
		if err != nil {
			if errors.Is(err, watchflow.ErrBusy) || errors.Is(err, watchflow.ErrInvalidState) || errors.Is(err, watchflow.ErrIncompleteSelection) {
				writeError(w, r, err)
				return
			}
			s.logger.Info().Err(err).Str("status", string(st.Status)).Msg("watch step failed")
		}
		writeJSON(w, http.StatusOK, s.view(st))
	}
}

// handleAdjacentEpisode answers null when there is no episode in that
// direction or no season is loaded; the view then stays where it is.
func (s *Server) handleAdjacentEpisode(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "from must be an episode id", nil)
		return
	}
	s.mu.Lock()
	eps := s.episodes
	s.mu.Unlock()

	var (
		ep    kina.Episode
		found bool
	)
	switch chi.URLParam(r, "adjacent") {
	case "prev":
		ep, found = eps.Prev(from)
	case "next":
		ep, found = eps.Next(from)
	default:
		writeProblem(w, r, http.StatusNotFound, codeBadRequest, "use prev or next", nil)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}
