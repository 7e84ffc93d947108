// Package chat talks to the AI legal assistant offered after the diagnostic
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// Conversation modes, matching the service tier that opened the chat
const (
	ModeAuto    = "auto"
	ModePremium = "premium"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrEmptyMessage = errors.New("message must contain text or an image")
	ErrInvalidMode  = errors.New("unknown chat mode")
	ErrUpstream     = errors.New("assistant unavailable")
)

var timeNow = time.Now

// Image is an optional attachment sent with a user message
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Client sends one user turn and returns the assistant reply. The session
// is read, never modified; the caller appends both turns to its history.
type Client interface {
	Send(ctx context.Context, session *models.ChatSession, text string, img *Image) (string, error)
}

// NewSession builds a conversation seeded with the diagnostic summary
func NewSession(area models.LawAreaID, mode, contextSummary string) (*models.ChatSession, error) {
	if mode == "" {
		mode = ModeAuto
	}
	if mode != ModeAuto && mode != ModePremium {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	return &models.ChatSession{
		ID:             uuid.New().String(),
		AreaID:         area,
		Mode:           mode,
		ContextSummary: contextSummary,
		History:        []models.ChatMessage{},
		StartedAt:      timeNow().UTC(),
	}, nil
}

// ModeForTier maps a service tier to a chat mode
func ModeForTier(tier models.ServiceTier) string {
	if tier == models.TierPremiumChat || tier == models.TierSpecialist {
		return ModePremium
	}
	return ModeAuto
}

// Append records a turn on the session
func Append(session *models.ChatSession, role, content string) {
	session.History = append(session.History, models.ChatMessage{
		Role:    role,
		Content: content,
		At:      timeNow().UTC(),
	})
}

// SystemPrompt is the instruction block given to the assistant
func SystemPrompt(session *models.ChatSession) string {
	var sb strings.Builder

	sb.WriteString("Eres un asistente legal colombiano. Responde en español, con lenguaje claro y sin sustituir la asesoría de un abogado.\n")
	fmt.Fprintf(&sb, "Área legal: %s\n", session.AreaID)
	if session.Mode == ModePremium {
		sb.WriteString("Modo premium: da un análisis detallado, cita las normas aplicables y sugiere los documentos que el usuario debe reunir.\n")
	} else {
		sb.WriteString("Modo automático: responde de forma breve y orientativa.\n")
	}
	if session.ContextSummary != "" {
		sb.WriteString("\nResumen del diagnóstico del usuario:\n")
		sb.WriteString(session.ContextSummary)
		sb.WriteString("\n")
	}

	return sb.String()
}

// ValidateTurn rejects a turn with neither text nor image data
func ValidateTurn(text string, img *Image) error {
	if strings.TrimSpace(text) == "" && (img == nil || len(img.Data) == 0) {
		return ErrEmptyMessage
	}
	return nil
}

// OfflineClient answers without any network call. Used when no assistant
// API key is configured so the flow can still be exercised end to end.
type OfflineClient struct{}

// Send returns a fixed acknowledgement that echoes the area and summary
func (OfflineClient) Send(ctx context.Context, session *models.ChatSession, text string, img *Image) (string, error) {
	if err := ValidateTurn(text, img); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reply := fmt.Sprintf("Hemos recibido su consulta sobre %s. Un asistente revisará su caso", session.AreaID)
	if session.ContextSummary != "" {
		reply += " teniendo en cuenta su diagnóstico: " + session.ContextSummary
	} else {
		reply += "."
	}
	return reply, nil
}
