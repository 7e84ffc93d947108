package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// Catalog handlers: areas, questions and service options

func areaIDParam(r *http.Request) models.LawAreaID {
	return models.LawAreaID(strings.ToUpper(chi.URLParam(r, "areaId")))
}

func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	areas := s.catalog.ListAreas()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"areas": areas,
		"total": len(areas),
	})
}

func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	area := s.catalog.GetArea(areaIDParam(r))
	if area == nil {
		respondError(w, http.StatusNotFound, "area_not_found", "area not found")
		return
	}
	respondJSON(w, http.StatusOK, area)
}

func (s *Server) handleListAreaQuestions(w http.ResponseWriter, r *http.Request) {
	id := areaIDParam(r)
	if s.catalog.GetArea(id) == nil {
		respondError(w, http.StatusNotFound, "area_not_found", "area not found")
		return
	}

	questions := s.catalog.StageTwoQuestions(id)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"area_id":   id,
		"questions": questions,
		"total":     len(questions),
	})
}

func (s *Server) handleListStageOneQuestions(w http.ResponseWriter, r *http.Request) {
	questions := s.catalog.StageOneQuestions()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"questions": questions,
		"total":     len(questions),
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	options := s.catalog.ListServices()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"services": options,
		"total":    len(options),
	})
}
