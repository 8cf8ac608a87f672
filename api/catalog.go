package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Frozertiru-gif/Kina/internal/kina"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

type titleRequest struct {
	TitleID int64 `json:"title_id"`
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "invalid title id", nil)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Client.Favorites(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) handleFavoriteToggle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.app.Client.ToggleFavorite(r.Context(), req.TitleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Client.Subscriptions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) handleSubscriptionToggle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.app.Client.ToggleSubscription(r.Context(), req.TitleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := s.app.Client.Title(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTitleEpisodes loads one season, keeps it for prev/next navigation and
// returns the requested picker page.
func (s *Server) handleTitleEpisodes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	season := queryInt(r, "season")
	if season < 1 {
		season = 1
	}
	list, err := s.app.Client.Episodes(r.Context(), id, season)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eps := watchflow.NewEpisodes(season, list)
	s.mu.Lock()
	s.episodes = eps
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, eps.Page(queryInt(r, "page"), queryInt(r, "per_page")))
}

func (s *Server) handleCatalogTop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.app.Client.CatalogTop(r.Context(), kina.TopQuery{
		Period: q.Get("period"),
		Type:   q.Get("type"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.app.Client.CatalogSearch(r.Context(), kina.SearchQuery{
		Q:      q.Get("q"),
		Type:   q.Get("type"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Client.ReferralMe(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
