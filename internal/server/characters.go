package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openquill/dmforge/internal/character"
)

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list characters: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, chars)
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var ch character.Character
	if err := decodeBody(r, &ch); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	created, err := s.store.Create(r.Context(), ch)
	switch {
	case errors.Is(err, character.ErrDuplicateID):
		writeError(w, http.StatusConflict, "character %q already exists", ch.ID)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "create character: %v", err)
		return
	}

	// First character in becomes the active one so sheet tools work without
	// an extra selection step.
	if s.selection.ID() == "" {
		s.selection.Set(created.ID)
	}

	s.logger.Info("character created", "character_id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, err := s.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, character.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown character %q", id)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "get character: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleUpdateCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var ch character.Character
	if err := decodeBody(r, &ch); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	ch.ID = id

	updated, err := s.store.Update(r.Context(), ch)
	switch {
	case errors.Is(err, character.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown character %q", id)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "update character: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete character: %v", err)
		return
	}
	if s.selection.ID() == id {
		s.selection.Set("")
	}
	s.logger.Info("character deleted", "character_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ─── Active character selection ───────────────────────────────────────────────

type activeCharacterRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleGetActiveCharacter(w http.ResponseWriter, r *http.Request) {
	id := s.selection.ID()
	if id == "" {
		writeError(w, http.StatusNotFound, "no active character selected")
		return
	}

	ch, err := s.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, character.ErrNotFound):
		// Selection points at a deleted character; clear it.
		s.selection.Set("")
		writeError(w, http.StatusNotFound, "no active character selected")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "get character: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleSetActiveCharacter(w http.ResponseWriter, r *http.Request) {
	var req activeCharacterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	ch, err := s.store.Get(r.Context(), req.ID)
	switch {
	case errors.Is(err, character.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown character %q", req.ID)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "get character: %v", err)
		return
	}

	s.selection.Set(ch.ID)
	s.logger.Info("active character changed", "character_id", ch.ID, "name", ch.Name)
	writeJSON(w, http.StatusOK, ch)
}
