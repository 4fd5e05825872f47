package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/service"
)

// staleHeader marks a response served from the local cache after the remote
// fetch failed
const staleHeader = "X-Wishsync-Stale"

// Server provides the agent's local HTTP API.
type Server struct {
	svc    *service.Service
	logger *logrus.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server, registers all routes, and returns it.
func NewServer(svc *service.Service, logger *logrus.Logger) *Server {
	s := &Server{svc: svc, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.mux)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	// API – Session
	s.mux.HandleFunc("GET /api/session", s.handleGetSession)
	s.mux.HandleFunc("POST /api/session/guest", s.handleEnableGuest)
	s.mux.HandleFunc("DELETE /api/session/guest", s.handleDisableGuest)
	s.mux.HandleFunc("POST /api/session/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/session/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/session/verify", s.handleVerifyEmail)
	s.mux.HandleFunc("POST /api/session/logout", s.handleLogout)
	s.mux.HandleFunc("POST /api/session/refresh", s.handleRefresh)
	s.mux.HandleFunc("PATCH /api/session/user", s.handleUpdateUser)

	// API – Lists
	s.mux.HandleFunc("GET /api/lists", s.handleGetLists)
	s.mux.HandleFunc("POST /api/lists", s.handleCreateList)
	s.mux.HandleFunc("PATCH /api/lists/{id}", s.handleUpdateList)
	s.mux.HandleFunc("DELETE /api/lists/{id}", s.handleDeleteList)
	s.mux.HandleFunc("PUT /api/lists/{id}/visibility", s.handleSetVisibility)

	// API – Wishes
	s.mux.HandleFunc("GET /api/lists/{id}/wishes", s.handleGetListWishes)
	s.mux.HandleFunc("GET /api/wishes/favorites", s.handleGetFavorites)
	s.mux.HandleFunc("POST /api/wishes", s.handleCreateWish)
	s.mux.HandleFunc("PATCH /api/wishes/{id}", s.handleUpdateWish)
	s.mux.HandleFunc("DELETE /api/wishes/{id}", s.handleDeleteWish)
	s.mux.HandleFunc("PUT /api/wishes/{id}/list", s.handleMoveWish)
	s.mux.HandleFunc("POST /api/wishes/{id}/favorite", s.handleToggleFavorite)

	// API – Collaboration
	s.mux.HandleFunc("POST /api/lists/{id}/collaboration", s.handleOpenCollaboration)
	s.mux.HandleFunc("DELETE /api/lists/{id}/collaboration", s.handleCloseCollaboration)
	s.mux.HandleFunc("GET /api/lists/{id}/collaborators", s.handleGetCollaborators)

	// API – Discovery
	s.mux.HandleFunc("GET /api/discovery/search", s.handleSearchProducts)
	s.mux.HandleFunc("POST /api/discovery/scrape", s.handleScrapeProduct)

	// API – Notifications
	s.mux.HandleFunc("GET /api/notifications/preferences", s.handleGetPreferences)
	s.mux.HandleFunc("PATCH /api/notifications/preferences", s.handleUpdatePreferences)

	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.WithError(err).Error("failed to encode JSON response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps an application error onto its HTTP status
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := s.logger.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path})
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Debug("request rejected")
	}

	message := apperr.Message(err)
	if apperr.KindOf(err) == apperr.KindUnknown {
		message = "internal error"
	}
	s.respondError(w, status, message)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRemoteWrite:
		return http.StatusBadGateway
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads the request body into dst and returns an error message on
// failure.  The caller should return immediately when ok == false.
func (s *Server) decodeJSON(r *http.Request, dst any) (ok bool, errMsg string) {
	if r.Body == nil || r.ContentLength == 0 {
		return false, "request body is empty"
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return false, fmt.Sprintf("invalid JSON: %v", err)
	}
	return true, ""
}

// ---------------------------------------------------------------------------
// Middleware & health
// ---------------------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Session.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": snap.State,
	})
}
