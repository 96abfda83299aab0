// Package service is the JSON transport over the catalog: it translates
// filter/sort UI state into query specs and maps the error taxonomy onto
// HTTP statuses.
package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"

	"github.com/SkillGG/psx/catalog"
	"github.com/SkillGG/psx/gquery"
)

type Server struct {
	router   *chi.Mux
	store    *catalog.Store
	resolver *gquery.Resolver
}

func NewServer(db sqrlx.Transactor) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		store:    catalog.NewStore(db),
		resolver: gquery.NewResolver(db),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(requestLogger)

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/games", s.handleListGames)
		r.Post("/games", s.handleCreateGame)
		r.Put("/games/{id}", s.handleUpdateGame)
		r.Delete("/games", s.handleRemoveGames)
		r.Post("/games/import", s.handleImport)
		r.Get("/games/export", s.handleExport)
		r.Post("/games/group", s.handleGroup)
		r.Post("/games/{id}/reparent", s.handleReparent)
		r.Post("/games/{id}/ungroup", s.handleUngroup)
		r.Put("/library/{user}/{id}", s.handleMarkOwned)
		r.Delete("/library/{user}/{id}", s.handleMarkNotOwned)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := log.WithFields(r.Context(), map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
		log.WithField(ctx, "duration", time.Since(start).String()).Info("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gquery.ErrInvalidSpec), errors.Is(err, catalog.ErrInvalidGame):
		status = http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.WithError(r.Context(), err).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func readJSON(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
