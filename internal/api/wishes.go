package api

import (
	"net/http"

	"github.com/Kerhoff/wishsync/internal/models"
)

type moveRequest struct {
	// ListID is the target list; empty unassigns the wish
	ListID string `json:"listId"`
}

func (s *Server) handleGetListWishes(w http.ResponseWriter, r *http.Request) {
	wishes, err := s.svc.Wishes.Query(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.WithError(err).Warn("serving cached wishes")
		w.Header().Set(staleHeader, "true")
	}
	if wishes == nil {
		wishes = []*models.Wish{}
	}
	s.respondJSON(w, http.StatusOK, wishes)
}

func (s *Server) handleGetFavorites(w http.ResponseWriter, r *http.Request) {
	favorites := s.svc.Wishes.Favorites()
	if favorites == nil {
		favorites = []*models.Wish{}
	}
	s.respondJSON(w, http.StatusOK, favorites)
}

func (s *Server) handleCreateWish(w http.ResponseWriter, r *http.Request) {
	var req models.Wish
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := s.svc.Wishes.Add(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateWish(w http.ResponseWriter, r *http.Request) {
	var patch models.WishPatch
	if ok, msg := s.decodeJSON(r, &patch); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := s.svc.Wishes.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteWish(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Wishes.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMoveWish(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	moved, err := s.svc.Wishes.Move(r.Context(), r.PathValue("id"), req.ListID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, moved)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	toggled, err := s.svc.Wishes.ToggleFavorite(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toggled)
}
