package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// --- Operator handlers (API key auth) ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	filters := models.UserFilters{
		InterestedArea: models.LawAreaID(strings.ToUpper(r.URL.Query().Get("area"))),
		Limit:          50,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filters.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	users, err := s.users.List(r.Context(), filters)
	if err != nil {
		respondServiceError(w, err, "list users")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": len(users),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.users.Lookup(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get user", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.users.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err, "delete user", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "user deleted",
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.sessions.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err, "delete session", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "session deleted",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.sessions.Count(r.Context())
	if err != nil {
		respondServiceError(w, err, "count sessions")
		return
	}

	client := ClientFromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": count,
		"client":   client.Name,
	})
}
