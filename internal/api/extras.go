package api

import (
	"net/http"

	"github.com/Kerhoff/wishsync/internal/collab"
	"github.com/Kerhoff/wishsync/internal/models"
)

// ---------------------------------------------------------------------------
// Collaboration
// ---------------------------------------------------------------------------

type collaborationResponse struct {
	ListID string                `json:"listId"`
	Room   string                `json:"room"`
	Self   models.Collaborator   `json:"self"`
	Peers  []models.Collaborator `json:"peers"`
}

func (s *Server) handleOpenCollaboration(w http.ResponseWriter, r *http.Request) {
	ch, err := s.svc.OpenCollaboration(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	self := ch.Self()
	s.respondJSON(w, http.StatusOK, collaborationResponse{
		ListID: ch.ListID(),
		Room:   collab.RoomName(ch.ListID()),
		Self:   models.Collaborator{ID: self.UserID, Name: self.Name, Color: self.Color, IsActive: true},
		Peers:  ch.Peers(),
	})
}

func (s *Server) handleCloseCollaboration(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CloseCollaboration(r.PathValue("id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetCollaborators(w http.ResponseWriter, r *http.Request) {
	peers, err := s.svc.Collaborators(r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, peers)
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

type scrapeRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := s.svc.Catalog.Search(r.Context(), q.Get("q"), q.Get("source"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, products)
}

func (s *Server) handleScrapeProduct(w http.ResponseWriter, r *http.Request) {
	if s.svc.Scraper == nil {
		s.respondError(w, http.StatusServiceUnavailable, "product scraping is not configured")
		return
	}

	var req scrapeRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	product, err := s.svc.Scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Preferences.Get())
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch models.NotificationPreferencesPatch
	if ok, msg := s.decodeJSON(r, &patch); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	prefs, err := s.svc.Preferences.Update(r.Context(), patch)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, prefs)
}
