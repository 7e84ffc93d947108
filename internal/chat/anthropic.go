package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

const (
	DefaultAPIURL    = "https://api.anthropic.com/v1/messages"
	DefaultMaxTokens = 1024
	apiVersion       = "2023-06-01"
	maxErrorBody     = 512
)

// Config configures the HTTP assistant client
type Config struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// AnthropicClient calls a Messages-style HTTP API
type AnthropicClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAnthropicClient creates a new client; APIKey and Model are required
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat model is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string     `json:"type"`
	Text   string     `json:"text,omitempty"`
	Source *apiSource `json:"source,omitempty"`
}

type apiSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Send replays the history, adds the new turn and returns the reply text
func (c *AnthropicClient) Send(ctx context.Context, session *models.ChatSession, text string, img *Image) (string, error) {
	if err := ValidateTurn(text, img); err != nil {
		return "", err
	}

	body, err := json.Marshal(c.buildRequest(session, text, img))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, snippet)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrUpstream, err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUpstream, apiResp.Error.Message)
	}

	var reply strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	if reply.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}

	return reply.String(), nil
}

func (c *AnthropicClient) buildRequest(session *models.ChatSession, text string, img *Image) apiRequest {
	messages := make([]apiMessage, 0, len(session.History)+1)
	for _, m := range session.History {
		messages = append(messages, apiMessage{
			Role:    m.Role,
			Content: []apiContent{{Type: "text", Text: m.Content}},
		})
	}

	turn := apiMessage{Role: RoleUser}
	if img != nil && len(img.Data) > 0 {
		turn.Content = append(turn.Content, apiContent{
			Type: "image",
			Source: &apiSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	if strings.TrimSpace(text) != "" {
		turn.Content = append(turn.Content, apiContent{Type: "text", Text: text})
	}
	messages = append(messages, turn)

	return apiRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    SystemPrompt(session),
		Messages:  messages,
	}
}
