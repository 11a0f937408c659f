package tracker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domsig/auth"
	"github.com/hazyhaar/domsig/docsig"
	"github.com/hazyhaar/domsig/horosafe"
	"github.com/hazyhaar/domsig/shield"
	"github.com/hazyhaar/domsig/signature"
	"github.com/hazyhaar/domsig/store"
)

// RegisterHTTP mounts the JSON API on r. Authentication, when enabled, is
// installed by the caller with auth.Middleware; the check route additionally
// demands the write scope.
//
//	GET  /health
//	POST /api/sign?mode=&root=          body: HTML
//	POST /api/pages/{id}/check          scope: write
//	GET  /api/pages/{id}/reports?limit=
//	GET  /api/reports/{id}
//	GET  /api/compare?from=&to=
//	GET  /api/lookup?signature=&limit=
func (t *Tracker) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/sign", t.handleSign)
		r.With(auth.RequireScope(auth.ScopeWrite)).Post("/pages/{id}/check", t.handleCheck)
		r.Get("/pages/{id}/reports", t.handleHistory)
		r.Get("/reports/{id}", t.handleReport)
		r.Get("/compare", t.handleCompare)
		r.Get("/lookup", t.handleLookup)
	})
}

func (t *Tracker) handleSign(w http.ResponseWriter, r *http.Request) {
	body, err := horosafe.LimitedReadAll(r.Body, t.config().Fetch.MaxBytes)
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	mode := t.config().SignatureMode()
	if q.Has("mode") {
		mode = signature.ParseMode(q.Get("mode"))
	}
	rep, err := t.SignHTML(r.Context(), body, mode, q.Get("root"))
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (t *Tracker) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := t.CheckID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (t *Tracker) handleHistory(w http.ResponseWriter, r *http.Request) {
	reports, err := t.History(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (t *Tracker) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := t.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (t *Tracker) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := t.Compare(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (t *Tracker) handleLookup(w http.ResponseWriter, r *http.Request) {
	occ, err := t.Lookup(r.Context(), r.URL.Query().Get("signature"), queryInt(r, "limit", 0))
	if err != nil {
		t.writeError(w, r, err)
		return
	}
	if occ == nil {
		occ = []store.Occurrence{}
	}
	writeJSON(w, http.StatusOK, occ)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (t *Tracker) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= 500 {
		shield.GetLogger(r.Context()).Error("tracker: request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, docsig.ErrModeMismatch):
		return http.StatusConflict
	case errors.Is(err, docsig.ErrRootNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, horosafe.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
