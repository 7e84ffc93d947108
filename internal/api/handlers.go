package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/diagnostic"
	"github.com/terra-clan/legal-diagnostic/internal/identity"
	"github.com/terra-clan/legal-diagnostic/internal/payment"
	"github.com/terra-clan/legal-diagnostic/internal/services"
	"github.com/terra-clan/legal-diagnostic/internal/session"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &apiError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, e *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: e}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// errorMapping maps a domain error to its HTTP status and error code
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{session.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{session.ErrSessionExpired, http.StatusGone, "session_expired"},
	{session.ErrSessionBusy, http.StatusConflict, "session_busy"},
	{session.ErrResultNotReady, http.StatusConflict, "result_not_ready"},
	{session.ErrChatNotAvailable, http.StatusConflict, "chat_not_available"},
	{session.ErrNoChat, http.StatusNotFound, "chat_not_found"},
	{session.ErrCheckoutNotAvailable, http.StatusConflict, "checkout_not_available"},
	{session.ErrServiceNotFound, http.StatusNotFound, "service_not_found"},
	{diagnostic.ErrEventNotAccepted, http.StatusConflict, "invalid_stage"},
	{diagnostic.ErrQuestionMismatch, http.StatusConflict, "question_mismatch"},
	{diagnostic.ErrAnswerKind, http.StatusUnprocessableEntity, "invalid_answer"},
	{identity.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{identity.ErrEmailRegistered, http.StatusConflict, "email_registered"},
	{chat.ErrEmptyMessage, http.StatusBadRequest, "validation_error"},
	{chat.ErrInvalidMode, http.StatusBadRequest, "validation_error"},
	{chat.ErrUpstream, http.StatusBadGateway, "assistant_unavailable"},
	{payment.ErrGatewayNotFound, http.StatusNotFound, "gateway_not_found"},
	{payment.ErrDeclined, http.StatusPaymentRequired, "payment_declined"},
	{payment.ErrNotChargeable, http.StatusUnprocessableEntity, "not_chargeable"},
}

// respondServiceError maps err onto the error envelope. Unknown errors are
// logged and reported as internal errors with the action as message.
func respondServiceError(w http.ResponseWriter, err error, action string, attrs ...any) {
	var verr *identity.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, &apiError{
			Code:    "validation_error",
			Message: verr.Error(),
			Fields:  verr.Fields,
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			respondError(w, m.status, m.code, err.Error())
			return
		}
	}

	slog.Error("failed to "+action, append([]any{"error", err}, attrs...)...)
	respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.health.HealthCheckAll(r.Context())

	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !services.Healthy(results) {
		slog.Warn("readiness check failed", "checks", checks)
		writeError(w, http.StatusServiceUnavailable, &apiError{
			Code:    "not_ready",
			Message: "service not ready",
			Fields:  checks,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}
