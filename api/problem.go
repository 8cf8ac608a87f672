package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Frozertiru-gif/Kina/internal/kina"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

// Bridge-local problem codes. API failures use the kina.Kind value as code.
const (
	codeBadRequest   = "bad_request"
	codeBusy         = "busy"
	codeInvalidState = "invalid_state"
	codeIncomplete   = "incomplete_selection"
	codeCountdown    = "countdown_running"
	codeContinued    = "already_continued"
	codeGateClosed   = "ad_gate_closed"
)

// writeProblem writes an RFC 7807 problem body.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, extra map[string]any) {
	res := map[string]any{
		"type":   "kina/" + code,
		"title":  http.StatusText(status),
		"status": status,
		"code":   code,
	}
	if detail != "" {
		res["detail"] = detail
	}
	if r != nil {
		res["instance"] = r.URL.EscapedPath()
		if id := middleware.GetReqID(r.Context()); id != "" {
			res["request_id"] = id
		}
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			continue
		}
		res[k] = v
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger := klog.WithComponent("api")
		logger.Error().Err(err).Int("status", status).Msg("failed to encode problem response")
	}
}

// writeError maps core errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, watchflow.ErrBusy):
		writeProblem(w, r, http.StatusConflict, codeBusy, "Another step is still running.", nil)
		return
	case errors.Is(err, watchflow.ErrInvalidState):
		writeProblem(w, r, http.StatusConflict, codeInvalidState, err.Error(), nil)
		return
	case errors.Is(err, watchflow.ErrIncompleteSelection):
		writeProblem(w, r, http.StatusBadRequest, codeIncomplete, "Pick a title, audio track and quality first.", nil)
		return
	case errors.Is(err, watchflow.ErrCountdownRunning):
		writeProblem(w, r, http.StatusConflict, codeCountdown, "The ad is still playing.", nil)
		return
	case errors.Is(err, watchflow.ErrAlreadyContinued):
		writeProblem(w, r, http.StatusConflict, codeContinued, "Already continuing.", nil)
		return
	case errors.Is(err, watchflow.ErrGateClosed):
		writeProblem(w, r, http.StatusConflict, codeGateClosed, "The ad was closed.", nil)
		return
	}

	var apiErr *kina.Error
	if !errors.As(err, &apiErr) {
		writeProblem(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	extra := map[string]any{}
	if apiErr.Code != "" {
		extra["reason"] = apiErr.Code
	}
	status := http.StatusBadGateway
	switch apiErr.Kind {
	case kina.KindAuthMissing:
		status = http.StatusUnauthorized
	case kina.KindAuthRejected:
		status = http.StatusUnauthorized
		if apiErr.Status == http.StatusForbidden {
			status = http.StatusForbidden
		}
	case kina.KindNotFound:
		status = http.StatusNotFound
		if avail, ok := kina.AvailabilityOf(err); ok {
			extra["availability"] = avail
		}
	case kina.KindRateLimited:
		status = http.StatusTooManyRequests
		if apiErr.RetryAfter > 0 {
			secs := int(apiErr.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			extra["retry_after"] = secs
		}
	case kina.KindApplication:
		status = http.StatusUnprocessableEntity
	}
	writeProblem(w, r, status, string(apiErr.Kind), kina.UserMessage(err), extra)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v. An empty body is accepted.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}
