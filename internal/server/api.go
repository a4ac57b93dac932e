package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/koltyakov/relink/internal/auth"
	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/normalized"
	"github.com/koltyakov/relink/internal/stats"
	"github.com/koltyakov/relink/internal/store"
)

const maxBodyBytes = 64 << 10

const watchPingInterval = 30 * time.Second

// apiHandler builds the control-plane router. Everything under /api/v1
// requires the bearer token; /healthz is open for liveness probes.
func (s *Server) apiHandler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/redirects/{id}", s.handleGetRedirect)
		r.Put("/redirects/{id}", s.handleSetRedirect)
		r.Delete("/redirects/{id}", s.handleRemoveRedirect)

		r.Get("/vanity/*", s.handleGetVanity)
		r.Put("/vanity/*", s.handleSetVanity)
		r.Delete("/vanity/*", s.handleRemoveVanity)

		r.Get("/statistics", s.handleGetStatistics)
		r.Delete("/statistics", s.handleRemoveStatistics)
		r.Get("/statistics/watch", s.handleWatchStatistics)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) ||
			!auth.Equal(auth.HashToken(header[len(prefix):]), s.options().tokenHash) {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type linkResponse struct {
	URL string `json:"url"`
}

type oldLinkResponse struct {
	OldURL *string `json:"old_url"`
}

type idResponse struct {
	ID id.ID `json:"id"`
}

type oldIDResponse struct {
	OldID *id.ID `json:"old_id"`
}

type setRedirectRequest struct {
	URL string `json:"url"`
}

type setVanityRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleGetRedirect(w http.ResponseWriter, r *http.Request) {
	link, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "id is invalid")
		return
	}
	to, ok, err := s.store.GetRedirect(r.Context(), link)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "id does not exist")
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{URL: to})
}

func (s *Server) handleSetRedirect(w http.ResponseWriter, r *http.Request) {
	link, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "id is invalid")
		return
	}
	var req setRedirectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "link not specified")
		return
	}
	to, err := normalized.ParseLink(req.URL)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "link is invalid")
		return
	}
	old, had, err := s.store.SetRedirect(r.Context(), link, to)
	if err != nil {
		s.storeError(w, err)
		return
	}
	var oldURL *string
	if had {
		oldURL = &old
	}
	writeJSON(w, http.StatusOK, oldLinkResponse{OldURL: oldURL})
}

func (s *Server) handleRemoveRedirect(w http.ResponseWriter, r *http.Request) {
	link, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "id is invalid")
		return
	}
	old, had, err := s.store.RemoveRedirect(r.Context(), link)
	if err != nil {
		s.storeError(w, err)
		return
	}
	var oldURL *string
	if had {
		oldURL = &old
	}
	writeJSON(w, http.StatusOK, oldLinkResponse{OldURL: oldURL})
}

// vanityParam extracts the catch-all path segment. chi routes on the
// escaped path, so percent-escapes are undone here.
func vanityParam(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}

func (s *Server) handleGetVanity(w http.ResponseWriter, r *http.Request) {
	vanity := normalized.Normalize(vanityParam(r))
	if vanity == "" {
		writeJSONError(w, http.StatusBadRequest, "vanity is empty")
		return
	}
	link, ok, err := s.store.GetVanity(r.Context(), vanity)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "vanity does not exist")
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: link})
}

func (s *Server) handleSetVanity(w http.ResponseWriter, r *http.Request) {
	vanity, err := normalized.Vanity(vanityParam(r))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "vanity is invalid")
		return
	}
	var req setVanityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "id not specified")
		return
	}
	link, err := id.Parse(req.ID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "id is invalid")
		return
	}
	old, had, err := s.store.SetVanity(r.Context(), vanity, link)
	if err != nil {
		s.storeError(w, err)
		return
	}
	var oldID *id.ID
	if had {
		oldID = &old
	}
	writeJSON(w, http.StatusOK, oldIDResponse{OldID: oldID})
}

func (s *Server) handleRemoveVanity(w http.ResponseWriter, r *http.Request) {
	vanity := normalized.Normalize(vanityParam(r))
	if vanity == "" {
		writeJSONError(w, http.StatusBadRequest, "vanity is empty")
		return
	}
	old, had, err := s.store.RemoveVanity(r.Context(), vanity)
	if err != nil {
		s.storeError(w, err)
		return
	}
	var oldID *id.ID
	if had {
		oldID = &old
	}
	writeJSON(w, http.StatusOK, oldIDResponse{OldID: oldID})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	desc, err := statisticsDescription(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.store.QueryStatistics(r.Context(), desc)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.StatisticValue{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRemoveStatistics(w http.ResponseWriter, r *http.Request) {
	desc, err := statisticsDescription(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.store.RemoveStatistics(r.Context(), desc)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.StatisticValue{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// statisticsDescription builds a partial statistic key from query
// parameters. A present-but-empty parameter is an exact match on the
// empty string, which is meaningful for data.
func statisticsDescription(q url.Values) (stats.Description, error) {
	var d stats.Description
	if q.Has("link") {
		subject, err := canonicalSubject(q.Get("link"))
		if err != nil {
			return d, err
		}
		d.Link = &subject
	}
	if q.Has("type") {
		t := stats.Type(q.Get("type"))
		if !t.Valid() {
			return d, fmt.Errorf("unknown statistic type %q", string(t))
		}
		d.Type = &t
	}
	if q.Has("data") {
		data := q.Get("data")
		d.Data = &data
	}
	if q.Has("time") {
		tm, err := stats.ParseTime(q.Get("time"))
		if err != nil {
			return d, fmt.Errorf("time is invalid: %w", err)
		}
		d.Time = &tm
	}
	return d, nil
}

func canonicalSubject(s string) (string, error) {
	subject, err := normalized.Subject(s)
	if err != nil {
		return "", fmt.Errorf("link is invalid: %w", err)
	}
	return subject, nil
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatchStatistics streams flushed statistics over a websocket, one
// JSON object per message. Slow consumers lose events rather than
// backing up the aggregator.
func (s *Server) handleWatchStatistics(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	events, stop := s.agg.Watch()
	defer stop()

	// Drain incoming frames so close and ping control messages are
	// processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(shutdownTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.log.Error("store operation failed", "err", err)
	writeJSONError(w, http.StatusServiceUnavailable, "store operation failed")
}

// decodeBody reads a single size-capped JSON value, rejecting unknown
// fields. It writes the error response itself and reports success.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSONBody(w, r, maxBodyBytes, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("request body must contain a single JSON value")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
