package api

import (
	"net/http"

	"github.com/Kerhoff/wishsync/internal/models"
)

type visibilityRequest struct {
	Visibility models.Visibility `json:"visibility"`
}

func (s *Server) handleGetLists(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Session.Snapshot()
	if snap.User == nil {
		s.respondJSON(w, http.StatusOK, []*models.WishList{})
		return
	}

	lists, err := s.svc.Lists.QueryByUser(r.Context(), snap.UserID())
	if err != nil {
		s.logger.WithError(err).Warn("serving cached lists")
		w.Header().Set(staleHeader, "true")
	}
	if lists == nil {
		lists = []*models.WishList{}
	}
	s.respondJSON(w, http.StatusOK, lists)
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req models.WishList
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := s.svc.Lists.Add(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	var patch models.ListPatch
	if ok, msg := s.decodeJSON(r, &patch); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := s.svc.Lists.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Lists.Delete(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.svc.CloseCollaboration(id); err != nil {
		s.logger.WithError(err).WithField("list_id", id).Warn("failed to close collaboration of deleted list")
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := s.svc.Lists.SetVisibility(r.Context(), r.PathValue("id"), req.Visibility)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}
