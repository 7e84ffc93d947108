package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// StartSessionRequest opens a session, optionally for an already known user
type StartSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// ResetRequest restarts the diagnostic; Hard also forgets the registration
type ResetRequest struct {
	Hard bool `json:"hard"`
}

// StartChatRequest selects the assistant mode
type StartChatRequest struct {
	Mode string `json:"mode,omitempty"`
}

// ChatMessageRequest is one user turn
type ChatMessageRequest struct {
	Text  string      `json:"text"`
	Image *chat.Image `json:"image,omitempty"`
}

// CheckoutRequest buys a service option through a gateway
type CheckoutRequest struct {
	ServiceID string `json:"service_id"`
	Gateway   string `json:"gateway"`
}

// RegisterResponse is the session after registration plus the stored user
type RegisterResponse struct {
	Session interface{}            `json:"session"`
	User    *models.RegisteredUser `json:"user"`
}

// decodeOptionalJSON accepts an empty body
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	view, err := s.sessions.Start(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		respondServiceError(w, err, "start session", "user_id", req.UserID)
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get session", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, user, err := s.sessions.Register(r.Context(), id, req)
	if err != nil {
		respondServiceError(w, err, "register user", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, RegisterResponse{Session: view, User: user})
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var answer models.Answer
	if !decodeJSON(w, r, &answer) {
		return
	}
	if answer.QuestionID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "question_id is required")
		return
	}

	view, err := s.sessions.SubmitAnswer(r.Context(), id, answer)
	if err != nil {
		respondServiceError(w, err, "submit answer", "id", id, "question_id", answer.QuestionID)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := s.sessions.Advance(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "advance session", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResetRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	view, err := s.sessions.Reset(r.Context(), id, req.Hard)
	if err != nil {
		respondServiceError(w, err, "reset session", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.sessions.Result(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get result", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// Chat handlers

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StartChatRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	c, err := s.sessions.StartChat(r.Context(), id, req.Mode)
	if err != nil {
		respondServiceError(w, err, "start chat", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ChatMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := s.sessions.SendChat(r.Context(), id, req.Text, req.Image)
	if err != nil {
		respondServiceError(w, err, "send chat message", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleEndChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.sessions.EndChat(r.Context(), id); err != nil {
		respondServiceError(w, err, "end chat", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "chat ended",
	})
}

// Payment handlers

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways := s.sessions.PaymentOptions()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": gateways,
		"total":    len(gateways),
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServiceID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "service_id is required")
		return
	}

	out, err := s.sessions.Checkout(r.Context(), id, req.ServiceID, req.Gateway)
	if err != nil {
		respondServiceError(w, err, "checkout", "id", id, "service_id", req.ServiceID, "gateway", req.Gateway)
		return
	}

	respondJSON(w, http.StatusOK, out)
}
