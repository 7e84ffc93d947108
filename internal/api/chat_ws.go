package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/session"
)

const chatTurnTimeout = 90 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Chat websocket frame types
const (
	frameConnected = "connected"
	frameMessage   = "message"
	frameReply     = "reply"
	frameEnd       = "end"
	frameError     = "error"
)

// ChatFrame is one websocket frame. Clients send "message" and "end";
// the server sends "connected", "reply" and "error".
type ChatFrame struct {
	Type    string              `json:"type"`
	Text    string              `json:"text,omitempty"`
	Image   *chat.Image         `json:"image,omitempty"`
	Chat    *models.ChatSession `json:"chat,omitempty"`
	Message *models.ChatMessage `json:"message,omitempty"`
	Code    string              `json:"code,omitempty"`
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get session", "id", id)
		return
	}
	if view.Chat == nil {
		respondError(w, http.StatusNotFound, "chat_not_found", session.ErrNoChat.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("chat websocket connected", "id", id, "chat_id", view.Chat.ID)

	if err := s.sendChatFrame(conn, ChatFrame{Type: frameConnected, Chat: view.Chat}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			break
		}

		var frame ChatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendChatError(conn, "invalid_request", "invalid message format")
			continue
		}

		switch frame.Type {
		case frameMessage:
			ctx, cancel := context.WithTimeout(context.Background(), chatTurnTimeout)
			msg, err := s.sessions.SendChat(ctx, id, frame.Text, frame.Image)
			cancel()
			if err != nil {
				code, message := chatErrorCode(err)
				if s.sendChatError(conn, code, message) != nil || isTerminal(err) {
					return
				}
				continue
			}
			if err := s.sendChatFrame(conn, ChatFrame{Type: frameReply, Message: msg}); err != nil {
				return
			}

		case frameEnd:
			if err := s.sessions.EndChat(context.Background(), id); err != nil {
				code, message := chatErrorCode(err)
				s.sendChatError(conn, code, message)
			}
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "chat ended"))
			slog.Info("chat ended over websocket", "id", id)
			return

		default:
			s.sendChatError(conn, "invalid_request", "unknown frame type: "+frame.Type)
		}
	}

	slog.Info("chat websocket disconnected", "id", id)
}

// chatErrorCode reuses the HTTP error codes for websocket error frames
func chatErrorCode(err error) (string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.code, err.Error()
		}
	}
	slog.Error("chat turn failed", "error", err)
	return "internal_error", "failed to send chat message"
}

// isTerminal reports errors after which the conversation cannot continue
func isTerminal(err error) bool {
	return errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, session.ErrSessionExpired) ||
		errors.Is(err, session.ErrNoChat)
}

func (s *Server) sendChatFrame(conn *websocket.Conn, frame ChatFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal chat frame", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send chat frame", "error", err)
		return err
	}
	return nil
}

func (s *Server) sendChatError(conn *websocket.Conn, code, message string) error {
	return s.sendChatFrame(conn, ChatFrame{Type: frameError, Code: code, Text: message})
}
