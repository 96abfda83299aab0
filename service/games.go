package service

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SkillGG/psx/catalog"
	"github.com/SkillGG/psx/gquery"
)

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	query, err := parseGameQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	games, err := s.resolver.QueryGames(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Games []*gquery.GameWithSubs `json:"games"`
	}{Games: games})
}

// parseGameQuery maps the UI query state onto the query spec. Substring
// terms get their wildcards here, the compiler binds values as given.
func parseGameQuery(r *http.Request) (*gquery.GameQuery, error) {
	params := r.URL.Query()
	query := &gquery.GameQuery{
		Filters: map[gquery.Column]gquery.ColumnFilter{},
		Terms:   map[gquery.Column]string{},
	}

	if raw := params.Get("user"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad user id", gquery.ErrInvalidSpec)
		}
		query.UserID = &userID
	}

	for _, col := range []gquery.Column{gquery.ColumnID, gquery.ColumnTitle} {
		if term := params.Get("search." + string(col)); term != "" {
			query.Filters[col] = gquery.ColumnFilter{}
			query.Terms[col] = "%" + term + "%"
		}
	}
	if term := params.Get("search.console"); term != "" {
		if !catalog.Console(term).Valid() {
			return nil, fmt.Errorf("%w: unknown console %q", gquery.ErrInvalidSpec, term)
		}
		query.Filters[gquery.ColumnConsole] = gquery.ColumnFilter{}
		query.Terms[gquery.ColumnConsole] = term
	}
	if term := params.Get("search.region"); term != "" {
		if !catalog.Region(term).Valid() {
			return nil, fmt.Errorf("%w: unknown region %q", gquery.ErrInvalidSpec, term)
		}
		query.Filters[gquery.ColumnRegion] = gquery.ColumnFilter{}
		query.Terms[gquery.ColumnRegion] = term
	}

	if raw := params.Get("sort"); raw != "" {
		sort, err := parseSort(raw)
		if err != nil {
			return nil, err
		}
		query.Sort = sort
	}

	query.OwnedFirst = params.Get("ownedFirst") == "true"

	var err error
	if query.Skip, err = parseIntParam(params.Get("skip")); err != nil {
		return nil, err
	}
	if query.Take, err = parseIntParam(params.Get("take")); err != nil {
		return nil, err
	}
	return query, nil
}

// parseSort reads a comma list of col:direction entries; list position is
// the sort priority.
func parseSort(raw string) (gquery.Sort, error) {
	out := gquery.Sort{}
	priority := 0
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		priority++

		name, direction := part, "asc"
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			name, direction = part[:idx], strings.ToLower(part[idx+1:])
		}

		field := gquery.SortField{Priority: priority}
		switch direction {
		case "asc":
		case "desc":
			field.Desc = true
		default:
			return nil, fmt.Errorf("%w: bad sort direction %q", gquery.ErrInvalidSpec, direction)
		}
		out[gquery.Column(name)] = field
	}
	return out, nil
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: bad page bound %q", gquery.ErrInvalidSpec, raw)
	}
	return val, nil
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var game catalog.Game
	if err := readJSON(r, &game); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrInvalidGame, err))
		return
	}
	if err := s.store.CreateGame(r.Context(), game); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

func (s *Server) handleUpdateGame(w http.ResponseWriter, r *http.Request) {
	var game catalog.Game
	if err := readJSON(r, &game); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrInvalidGame, err))
		return
	}
	game.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateGame(r.Context(), game); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Server) handleRemoveGames(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrInvalidGame, err))
		return
	}
	if err := s.store.RemoveGames(r.Context(), body.IDs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DefaultConsole catalog.Console     `json:"defaultConsole"`
		Games          []catalog.ImportRow `json:"games"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrInvalidGame, err))
		return
	}

	games, err := catalog.NormalizeImport(body.Games, body.DefaultConsole)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.ImportBatch(r.Context(), games); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Imported int `json:"imported"`
	}{Imported: len(games)})
}

// handleExport dumps the whole catalog as a JSON download, the mirror of
// handleImport.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	games, err := s.store.AllGames(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="gameExport.json"`)
	writeJSON(w, http.StatusOK, games)
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title   string   `json:"title"`
		Members []string `json:"members"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrInvalidGame, err))
		return
	}

	aggregateID, err := s.store.Group(r.Context(), body.Title, body.Members)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{ID: aggregateID})
}

func (s *Server) handleReparent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParentID *string `json:"parentId"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrInvalidGame, err))
		return
	}
	if err := s.store.Reparent(r.Context(), chi.URLParam(r, "id"), body.ParentID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleUngroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveFromGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleMarkOwned(w http.ResponseWriter, r *http.Request) {
	s.setOwnership(w, r, true)
}

func (s *Server) handleMarkNotOwned(w http.ResponseWriter, r *http.Request) {
	s.setOwnership(w, r, false)
}

func (s *Server) setOwnership(w http.ResponseWriter, r *http.Request, owned bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: bad user id", catalog.ErrInvalidGame))
		return
	}
	if err := s.store.SetOwnership(r.Context(), userID, chi.URLParam(r, "id"), owned); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
