package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// Client is a Go SDK for the legal diagnostic API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAPIKey sets the operator API key used by the admin calls
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient creates a new diagnostic API client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// Question is the question waiting for an answer
type Question struct {
	Stage     models.TestStage    `json:"stage"`
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Kind      models.QuestionKind `json:"kind"`
	Reference string              `json:"reference,omitempty"`
}

// Session is a diagnostic session with its pending question
type Session struct {
	models.DiagnosticSession
	Question *Question `json:"question,omitempty"`
}

// Summary is the diagnostic synopsis
type Summary struct {
	AreaID    models.LawAreaID `json:"area_id"`
	Text      string           `json:"text"`
	Framework string           `json:"framework,omitempty"`
	Clauses   []string         `json:"clauses"`
}

// RankedService is a service option with its recommendation flag
type RankedService struct {
	models.ServiceOption
	Recommended bool `json:"recommended"`
}

// Recommendation orders the service catalog
type Recommendation struct {
	AreaID      models.LawAreaID     `json:"area_id"`
	Affirmative int                  `json:"affirmative_answers"`
	Tiers       []models.ServiceTier `json:"tiers"`
	Options     []RankedService      `json:"options"`
}

// Result is the diagnostic outcome
type Result struct {
	SessionID      string                   `json:"session_id"`
	Stage          models.TestStage         `json:"stage"`
	Area           models.LawArea           `json:"area"`
	Votes          map[models.LawAreaID]int `json:"votes"`
	Fallback       bool                     `json:"fallback"`
	Summary        Summary                  `json:"summary"`
	Recommendation Recommendation           `json:"recommendation"`
}

// Gateway is a payment gateway offered at checkout
type Gateway struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Checkout is a successful purchase
type Checkout struct {
	Payment *models.PaymentRecord `json:"payment,omitempty"`
	Chat    *models.ChatSession   `json:"chat,omitempty"`
}

// Image is an attachment for a chat message
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Catalog

// ListAreas returns the legal areas in classifier order
func (c *Client) ListAreas(ctx context.Context) ([]models.LawArea, error) {
	var data struct {
		Areas []models.LawArea `json:"areas"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/catalog/areas", nil, &data); err != nil {
		return nil, err
	}
	return data.Areas, nil
}

// ListServices returns the service options
func (c *Client) ListServices(ctx context.Context) ([]models.ServiceOption, error) {
	var data struct {
		Services []models.ServiceOption `json:"services"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/catalog/services", nil, &data); err != nil {
		return nil, err
	}
	return data.Services, nil
}

// Sessions

// StartSession opens a session; a non-empty userID skips registration
func (c *Client) StartSession(ctx context.Context, userID string) (*Session, error) {
	var s Session
	body := map[string]string{}
	if userID != "" {
		body["user_id"] = userID
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/sessions", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession retrieves a session
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.call(ctx, http.MethodGet, sessionPath(id, ""), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Register submits the registration form
func (c *Client) Register(ctx context.Context, id string, req models.RegisterRequest) (*Session, *models.RegisteredUser, error) {
	var data struct {
		Session *Session               `json:"session"`
		User    *models.RegisteredUser `json:"user"`
	}
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/register"), req, &data); err != nil {
		return nil, nil, err
	}
	return data.Session, data.User, nil
}

// Answer answers the current question
func (c *Client) Answer(ctx context.Context, id string, answer models.Answer) (*Session, error) {
	var s Session
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/answers"), answer, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Advance ends the results simulation
func (c *Client) Advance(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/advance"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Reset restarts the diagnostic
func (c *Client) Reset(ctx context.Context, id string, hard bool) (*Session, error) {
	var s Session
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/reset"), map[string]bool{"hard": hard}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Result retrieves the diagnostic outcome
func (c *Client) Result(ctx context.Context, id string) (*Result, error) {
	var r Result
	if err := c.call(ctx, http.MethodGet, sessionPath(id, "/result"), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Chat

// StartChat opens the assistant conversation
func (c *Client) StartChat(ctx context.Context, id, mode string) (*models.ChatSession, error) {
	var chat models.ChatSession
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/chat"), map[string]string{"mode": mode}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// SendChat sends a message and returns the assistant reply
func (c *Client) SendChat(ctx context.Context, id, text string, img *Image) (*models.ChatMessage, error) {
	req := struct {
		Text  string `json:"text"`
		Image *Image `json:"image,omitempty"`
	}{text, img}

	var msg models.ChatMessage
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/chat/messages"), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EndChat discards the conversation
func (c *Client) EndChat(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, sessionPath(id, "/chat"), nil, nil)
}

// Payments

// ListGateways returns the payment gateways
func (c *Client) ListGateways(ctx context.Context) ([]Gateway, error) {
	var data struct {
		Gateways []Gateway `json:"gateways"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/payments/gateways", nil, &data); err != nil {
		return nil, err
	}
	return data.Gateways, nil
}

// Checkout buys a service option
func (c *Client) Checkout(ctx context.Context, id, serviceID, gateway string) (*Checkout, error) {
	req := map[string]string{"service_id": serviceID, "gateway": gateway}

	var out Checkout
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/checkout"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Admin

// ListUsers returns registered users; requires an API key with users:read
func (c *Client) ListUsers(ctx context.Context, area models.LawAreaID, limit, offset int) ([]*models.RegisteredUser, error) {
	q := url.Values{}
	if area != "" {
		q.Set("area", string(area))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	path := "/api/v1/admin/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var data struct {
		Users []*models.RegisteredUser `json:"users"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Users, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func sessionPath(id, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(id) + suffix
}

// call performs a request and decodes the data of the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Code: "http_error", Message: string(respBody)}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !envelope.Success || resp.StatusCode >= 400 {
		apiErr := envelope.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
