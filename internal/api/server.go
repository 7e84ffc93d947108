package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/legal-diagnostic/internal/chat"
	"github.com/terra-clan/legal-diagnostic/internal/config"
	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/payment"
	"github.com/terra-clan/legal-diagnostic/internal/services"
	"github.com/terra-clan/legal-diagnostic/internal/session"
)

// Sessions drives diagnostic sessions
type Sessions interface {
	Start(ctx context.Context, userID string) (*session.View, error)
	Get(ctx context.Context, id string) (*session.View, error)
	Register(ctx context.Context, id string, req models.RegisterRequest) (*session.View, *models.RegisteredUser, error)
	SubmitAnswer(ctx context.Context, id string, answer models.Answer) (*session.View, error)
	Advance(ctx context.Context, id string) (*session.View, error)
	Reset(ctx context.Context, id string, hard bool) (*session.View, error)
	Result(ctx context.Context, id string) (*session.Result, error)
	StartChat(ctx context.Context, id, mode string) (*models.ChatSession, error)
	SendChat(ctx context.Context, id, text string, img *chat.Image) (*models.ChatMessage, error)
	EndChat(ctx context.Context, id string) error
	PaymentOptions() []payment.Option
	Checkout(ctx context.Context, id, serviceID, gateway string) (*session.CheckoutResult, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Catalog serves the area registry, questions and service options
type Catalog interface {
	ListAreas() []models.LawArea
	GetArea(id models.LawAreaID) *models.LawArea
	StageOneQuestions() []models.StageOneQuestion
	StageTwoQuestions(id models.LawAreaID) []models.AssessmentQuestion
	ListServices() []models.ServiceOption
}

// Users gives operators access to registered users
type Users interface {
	Lookup(ctx context.Context, id string) (*models.RegisteredUser, error)
	List(ctx context.Context, filters models.UserFilters) ([]*models.RegisteredUser, error)
	Delete(ctx context.Context, id string) error
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	sessions       Sessions
	catalog        Catalog
	users          Users
	health         *services.Registry
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	sessions Sessions,
	catalog Catalog,
	users Users,
	clients ClientStore,
	health *services.Registry,
) *Server {
	if health == nil {
		health = services.NewRegistry()
	}

	s := &Server{
		config:         cfg,
		sessions:       sessions,
		catalog:        catalog,
		users:          users,
		health:         health,
		authMiddleware: NewAuthMiddleware(clients),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/areas", s.handleListAreas)
			r.Get("/areas/{areaId}", s.handleGetArea)
			r.Get("/areas/{areaId}/questions", s.handleListAreaQuestions)
			r.Get("/questions", s.handleListStageOneQuestions)
			r.Get("/services", s.handleListServices)
		})

		r.Get("/payments/gateways", s.handleListGateways)

		// Public diagnostic flow (the session id is the capability)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleStartSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/register", s.handleRegister)
				r.Post("/answers", s.handleSubmitAnswer)
				r.Post("/advance", s.handleAdvance)
				r.Post("/reset", s.handleReset)
				r.Get("/result", s.handleGetResult)

				r.Post("/chat", s.handleStartChat)
				r.Post("/chat/messages", s.handleSendChat)
				r.Delete("/chat", s.handleEndChat)
				r.Get("/chat/ws", s.handleChatWS)

				r.Post("/checkout", s.handleCheckout)
			})
		})

		// Operator routes (API key auth)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware.Authenticate)

			r.With(s.authMiddleware.RequirePermission(models.PermUsersRead)).Get("/users", s.handleListUsers)
			r.With(s.authMiddleware.RequirePermission(models.PermUsersRead)).Get("/users/{id}", s.handleGetUser)
			r.With(s.authMiddleware.RequirePermission(models.PermUsersWrite)).Delete("/users/{id}", s.handleDeleteUser)
			r.With(s.authMiddleware.RequirePermission(models.PermSessionsWrite)).Delete("/sessions/{id}", s.handleDeleteSession)
			r.With(s.authMiddleware.RequirePermission(models.PermSessionsRead)).Get("/stats", s.handleStats)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
