package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/legal-diagnostic/internal/catalog"
	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/config"
	"github.com/terra-clan/legal-diagnostic/internal/identity"
	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/payment"
	"github.com/terra-clan/legal-diagnostic/internal/services"
	"github.com/terra-clan/legal-diagnostic/internal/session"
	"github.com/terra-clan/legal-diagnostic/internal/storage"
)

const operatorKey = "sk_test_operator_key"

type echoChat struct{}

func (echoChat) Send(ctx context.Context, s *models.ChatSession, text string, img *chat.Image) (string, error) {
	if text == "fail" {
		return "", chat.ErrUpstream
	}
	return "eco: " + text, nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	catalog *catalog.Loader
	repo    *storage.MemoryRepository
	health  *services.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	loader := catalog.NewLoader()
	require.NoError(t, loader.LoadDefaults())

	repo := storage.NewMemoryRepository()
	repo.AddClient(&models.ApiClient{
		ID:          1,
		Name:        "crm-sync",
		ApiKey:      operatorKey,
		IsActive:    true,
		Permissions: []string{"users:read", models.PermSessionsRead},
	})

	users := identity.NewProvider(repo, loader)
	payments := payment.NewRegistry(payment.NewSimulatedGateways([]string{"card"}, 0, payment.Always(true))...)
	manager := session.NewManager(session.NewMemoryStore(), loader, users, echoChat{}, payments, session.Options{
		TTL:          time.Hour,
		ResultsDelay: 0,
	})

	health := services.NewRegistry()
	health.Register("sessions", services.NewCheckFunc("session-store", manager.Ping))

	server := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, manager, loader, users, repo, health)
	return &testEnv{server: server, handler: server.Router(), catalog: loader, repo: repo, health: health}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

type sessionBody struct {
	ID    string `json:"id"`
	State struct {
		Stage          models.TestStage `json:"stage"`
		UserID         string           `json:"user_id"`
		DeterminedArea *models.LawArea  `json:"determined_area"`
	} `json:"state"`
	Question *struct {
		ID string `json:"id"`
	} `json:"question"`
}

// startRegistered opens a session over HTTP and registers a user
func (e *testEnv) startRegistered(t *testing.T) string {
	t.Helper()

	code, env := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, code)
	var sess sessionBody
	decodeData(t, env, &sess)

	code, _ = e.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/register", models.RegisterRequest{
		Name:               "Ana Pérez",
		Email:              "ana@example.com",
		InterestedArea:     models.AreaLabor,
		DataPolicyAccepted: true,
	})
	require.Equal(t, http.StatusOK, code)
	return sess.ID
}

// answerAll answers every pending question, yes for the listed ids
func (e *testEnv) answerAll(t *testing.T, id string, yes ...string) sessionBody {
	t.Helper()
	set := map[string]bool{}
	for _, y := range yes {
		set[y] = true
	}

	code, env := e.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	var sess sessionBody
	decodeData(t, env, &sess)

	for sess.Question != nil {
		qid := sess.Question.ID
		code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/answers", map[string]interface{}{
			"question_id": qid,
			"value":       set[qid],
		})
		require.Equal(t, http.StatusOK, code, "answering %s", qid)
		sess = sessionBody{}
		decodeData(t, env, &sess)
	}
	return sess
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, _ = e.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)

	e.health.Register("postgres", services.NewCheckFunc("postgres", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	code, env = e.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_ready", env.Error.Code)
	assert.Equal(t, "connection refused", env.Error.Fields["postgres"])
	assert.Equal(t, "ok", env.Error.Fields["sessions"])
}

func TestCatalogRoutes(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodGet, "/api/v1/catalog/areas", nil)
	require.Equal(t, http.StatusOK, code)
	var areas struct {
		Areas []models.LawArea `json:"areas"`
		Total int              `json:"total"`
	}
	decodeData(t, env, &areas)
	assert.Equal(t, len(e.catalog.ListAreas()), areas.Total)

	code, env = e.do(t, http.MethodGet, "/api/v1/catalog/areas/labor", nil)
	require.Equal(t, http.StatusOK, code)
	var area models.LawArea
	decodeData(t, env, &area)
	assert.Equal(t, models.AreaLabor, area.ID)

	code, env = e.do(t, http.MethodGet, "/api/v1/catalog/areas/LABOR/questions", nil)
	require.Equal(t, http.StatusOK, code)
	var questions struct {
		Total int `json:"total"`
	}
	decodeData(t, env, &questions)
	assert.Equal(t, len(e.catalog.StageTwoQuestions(models.AreaLabor)), questions.Total)

	code, env = e.do(t, http.MethodGet, "/api/v1/catalog/areas/TAX", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "area_not_found", env.Error.Code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/catalog/questions", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/catalog/services", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestDiagnosticFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	id := e.startRegistered(t)

	sess := e.answerAll(t, id, "s1_employment", "lab_dismissal", "lab_severance")
	assert.Equal(t, models.StageServiceOptions, sess.State.Stage)
	require.NotNil(t, sess.State.DeterminedArea)
	assert.Equal(t, models.AreaLabor, sess.State.DeterminedArea.ID)

	code, env := e.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, code)
	var res session.Result
	decodeData(t, env, &res)
	assert.Contains(t, res.Summary.Text, "(Ref: CST, Art. 64)")
	assert.Equal(t, []models.ServiceTier{models.TierPremiumChat, models.TierSpecialist}, res.Recommendation.Tiers)

	code, env = e.do(t, http.MethodGet, "/api/v1/payments/gateways", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", CheckoutRequest{ServiceID: "premium-chat", Gateway: "card"})
	require.Equal(t, http.StatusOK, code)
	var out session.CheckoutResult
	decodeData(t, env, &out)
	require.NotNil(t, out.Payment)
	assert.True(t, out.Payment.Success)
	require.NotNil(t, out.Chat)
	assert.Equal(t, chat.ModePremium, out.Chat.Mode)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat/messages", ChatMessageRequest{Text: "hola"})
	require.Equal(t, http.StatusOK, code)
	var msg models.ChatMessage
	decodeData(t, env, &msg)
	assert.Equal(t, "eco: hola", msg.Content)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat/messages", ChatMessageRequest{Text: "fail"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "assistant_unavailable", env.Error.Code)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/chat", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/reset", ResetRequest{Hard: true})
	require.Equal(t, http.StatusOK, code)
	sess = sessionBody{}
	decodeData(t, env, &sess)
	assert.Equal(t, models.StageRegistration, sess.State.Stage)
}

func TestSessionErrors(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodGet, "/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "session_not_found", env.Error.Code)
	assert.False(t, env.Success)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{UserID: "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "user_not_found", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, code)
	var sess sessionBody
	decodeData(t, env, &sess)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/register", models.RegisterRequest{Name: "A", Email: "bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "name")
	assert.Contains(t, env.Error.Fields, "email")
	assert.Contains(t, env.Error.Fields, "data_policy_accepted")

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/answers", `{"question_id":"s1_employment","value":true}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_stage", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/register", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", env.Error.Code)

	id := e.startRegistered(t)

	// the email is taken now; the stored user is not echoed back
	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/register", models.RegisterRequest{
		Name:               "Otra Persona",
		Email:              "ANA@example.com",
		InterestedArea:     models.AreaCriminal,
		DataPolicyAccepted: true,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "email_registered", env.Error.Code)
	assert.Empty(t, env.Data)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/answers", `{"question_id":"s1_crime","value":true}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "question_mismatch", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/answers", `{"question_id":"s1_employment","value":"sí"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "invalid_answer", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/answers", `{"value":true}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = e.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/result", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "result_not_ready", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", CheckoutRequest{ServiceID: "premium-chat", Gateway: "card"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "checkout_not_available", env.Error.Code)
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t)
	e.startRegistered(t)

	code, env := e.do(t, http.MethodGet, "/api/v1/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	code, env = e.do(t, http.MethodGet, "/api/v1/admin/users", nil, "Authorization", "Bearer sk_wrong_key")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	code, env = e.do(t, http.MethodGet, "/api/v1/admin/users?area=labor", nil, "Authorization", "Bearer "+operatorKey)
	require.Equal(t, http.StatusOK, code)
	var users struct {
		Users []models.RegisteredUser `json:"users"`
		Total int                     `json:"total"`
	}
	decodeData(t, env, &users)
	require.Equal(t, 1, users.Total)
	assert.Equal(t, "ana@example.com", users.Users[0].Email)

	code, env = e.do(t, http.MethodGet, "/api/v1/admin/stats", nil, "X-API-Key", operatorKey)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Sessions int    `json:"sessions"`
		Client   string `json:"client"`
	}
	decodeData(t, env, &stats)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, "crm-sync", stats.Client)

	code, env = e.do(t, http.MethodDelete, "/api/v1/admin/users/"+users.Users[0].ID, nil, "X-API-Key", operatorKey)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission_denied", env.Error.Code)
}

func TestChatWebsocket(t *testing.T) {
	e := newTestEnv(t)
	id := e.startRegistered(t)
	e.answerAll(t, id, "s1_crime")

	ts := httptest.NewServer(e.handler)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/sessions/" + id + "/chat/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "no chat has been started")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	code, _ := e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat", StartChatRequest{Mode: chat.ModeAuto})
	require.Equal(t, http.StatusOK, code)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame ChatFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, frameConnected, frame.Type)
	require.NotNil(t, frame.Chat)
	assert.Equal(t, models.AreaCriminal, frame.Chat.AreaID)

	require.NoError(t, conn.WriteJSON(ChatFrame{Type: frameMessage, Text: "me citaron"}))
	frame = ChatFrame{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, frameReply, frame.Type)
	require.NotNil(t, frame.Message)
	assert.Equal(t, "eco: me citaron", frame.Message.Content)

	require.NoError(t, conn.WriteJSON(ChatFrame{Type: frameMessage}))
	frame = ChatFrame{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, frameError, frame.Type)
	assert.Equal(t, "validation_error", frame.Code)

	require.NoError(t, conn.WriteJSON(ChatFrame{Type: frameEnd}))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/chat", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
